package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"
	"nuha.dev/gpsforward/internal/tunnel"
)

var eaddr = flag.String("eaddr", ":25150", "address for external connection")
var taddr = flag.String("taddr", ":25151", "address for tunnel connection")
var secret = flag.String("token", "", "token for tunnel auth connection")

func main() {
	flag.Parse()
	log.Info().Msgf("using external addr %s and tunnel addr %s", *eaddr, *taddr)

	e := tunnel.NewEdge(&tunnel.EdgeConfig{ExternalAddr: *eaddr, TunnelAddr: *taddr, Token: *secret})
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		<-sigc
		e.Close()
	}()
	if err := e.Run(); err != nil {
		log.Fatal().Err(err).Msg("edge stopped")
	}
}
