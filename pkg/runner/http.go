package runner

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
)

// HTTPService serves an http.Server under the lifecycle runner.
type HTTPService struct {
	Server *http.Server
	// Listener, when set, is used instead of listening on Server.Addr.
	Listener net.Listener
	Logger   *slog.Logger
}

func (s *HTTPService) Start() <-chan error {
	errCh := make(chan error, 1)
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		var err error
		if s.Listener != nil {
			logger.Info("http_server_listening", "addr", s.Listener.Addr().String())
			err = s.Server.Serve(s.Listener)
		} else {
			logger.Info("http_server_listening", "addr", s.Server.Addr)
			err = s.Server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	return errCh
}

func (s *HTTPService) Drain(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}
