package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Masterminds/semver"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const writeTimeout = 10 * time.Second

var protocolVersion = semver.MustParse(ProtocolVersion)

type versionError struct {
	constraint  string
	unsatisfied bool
	err         error
}

func (e *versionError) Error() string {
	if e.unsatisfied {
		return fmt.Sprintf("protocol version %s does not satisfy %q", ProtocolVersion, e.constraint)
	}
	return fmt.Sprintf("invalid version constraint %q: %v", e.constraint, e.err)
}

func (e *versionError) Unwrap() error { return e.err }

// checkProtocolVersion accepts an empty constraint.
func checkProtocolVersion(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return &versionError{constraint: constraint, err: err}
	}
	if !c.Check(protocolVersion) {
		return &versionError{constraint: constraint, unsatisfied: true}
	}
	return nil
}

func accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, context.Context, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil, nil, err
	}
	return c, r.Context(), nil
}

// StreamPath sends the current snapshot to a WebSocket client, then one
// message per change until either side goes away.
func StreamPath(s *Service, w http.ResponseWriter, r *http.Request) {
	c, ctx, err := accept(w, r)
	if err != nil {
		log.WithError(err).Error("Failed to accept client")
		return
	}
	defer c.CloseNow()

	logger := log.WithFields(log.Fields{
		"client": uuid.New(),
		"remote": r.RemoteAddr,
	})
	logger.Debug("Path stream client connected")
	defer logger.Debug("Path stream client disconnected")

	// Clients only listen; CloseRead cancels ctx once the client closes.
	ctx = c.CloseRead(ctx)

	updates, unsub := s.src.Updates()
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case snap, ok := <-updates:
			if !ok {
				c.Close(websocket.StatusGoingAway, "path monitor stopped")
				return
			}
			b, err := json.Marshal(snap)
			if err != nil {
				logger.WithError(err).Error("Failed to encode path snapshot")
				c.Close(websocket.StatusInternalError, "encoding failed")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, b)
			cancel()
			if err != nil {
				logger.WithError(err).Debug("Failed to write path snapshot")
				return
			}
		}
	}
}
