package journal

import (
	"errors"
	"time"

	ierr "github.com/mark3labs/agentloop/internal/errors"
	"github.com/mark3labs/agentloop/internal/logger"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// startEmbeddedServer starts an embedded NATS server with JetStream enabled
// using the specified data directory for file-based storage.
func startEmbeddedServer(dataDir string) (*server.Server, error) {
	logger.Debug("Starting embedded NATS server with data dir: %s", dataDir)

	opts := &server.Options{
		JetStream:  true,
		StoreDir:   dataDir,
		DontListen: true, // No network ports - in-process only
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		logger.Error("Failed to create NATS server: %v", err)
		return nil, err
	}

	go ns.Start()

	if !ns.ReadyForConnections(4 * time.Second) {
		logger.Error("NATS server failed to start within 4s timeout")
		return nil, errors.New("nats server failed to start within timeout")
	}

	logger.Debug("NATS server ready for connections")
	return ns, nil
}

// connectInProcess creates an in-process connection to the embedded server.
// The connection does not use network ports.
func connectInProcess(ns *server.Server) (*nats.Conn, error) {
	conn, err := nats.Connect("", nats.InProcessServer(ns))
	if err != nil {
		logger.Error("Failed to connect to NATS in-process: %v", err)
		return nil, err
	}
	return conn, nil
}

func createJetStream(nc *nats.Conn) (jetstream.JetStream, error) {
	return jetstream.New(nc)
}

// shutdown drains the connection and stops the server, with timeouts so a
// stuck drain or shutdown cannot hang the caller forever. Failures are
// transient (the store files survive them) and are collected so both phases
// always run.
func shutdown(nc *nats.Conn, ns *server.Server) error {
	var errs ierr.MultiError

	if nc != nil {
		drainDone := make(chan error, 1)
		go func() {
			drainDone <- nc.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				logger.Warn("NATS drain failed, forcing close: %v", err)
				nc.Close()
				errs.Append(ierr.NewTransientError("nats drain", err))
			}
		case <-time.After(2 * time.Second):
			logger.Warn("NATS drain timed out after 2s, forcing close")
			nc.Close()
			errs.Append(ierr.NewTransientError("nats drain", errors.New("timed out after 2s")))
		}
	}

	if ns != nil {
		ns.Shutdown()

		shutdownDone := make(chan struct{})
		go func() {
			ns.WaitForShutdown()
			close(shutdownDone)
		}()

		select {
		case <-shutdownDone:
			logger.Debug("NATS server shut down cleanly")
		case <-time.After(5 * time.Second):
			logger.Error("NATS server shutdown timed out after 5s")
			errs.Append(ierr.NewTransientError("nats shutdown", errors.New("timed out after 5s")))
		}
	}

	return errs.ErrorOrNil()
}
