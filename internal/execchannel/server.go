package execchannel

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"github.com/wilsonhou/matchcore/internal/limiter"
	tomb "gopkg.in/tomb.v2"
)

// Server accepts TCP connections from auto-traders and hands each one off
// to its own Session, mirroring the reference exchange's one-connection,
// one-competitor model.
type Server struct {
	address          string
	port             int
	controller       Controller
	marketEvents     MarketEventsPump
	limiterInterval  float64
	limiterLimit     int
}

// NewServer constructs a server that will listen on address:port once Run
// is called.
func NewServer(address string, port int, controller Controller, marketEvents MarketEventsPump, limiterInterval float64, limiterLimit int) *Server {
	return &Server{
		address:         address,
		port:            port,
		controller:      controller,
		marketEvents:    marketEvents,
		limiterInterval: limiterInterval,
		limiterLimit:    limiterLimit,
	}
}

// Run listens and accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return err
	}
	defer listener.Close()

	t.Go(func() error {
		<-t.Dying()
		return listener.Close()
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("execution channel listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Error().Err(err).Msg("error accepting connection")
				continue
			}
		}

		log.Info().Str("peer", conn.RemoteAddr().String()).Msg("accepted execution channel connection")
		freqLimit := limiter.New(s.limiterInterval, s.limiterLimit)
		session := NewSession(conn, s.controller, s.marketEvents, freqLimit)
		go session.Serve()
	}
}
