package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/cable/pkg/protocol"
)

type benchCounters struct {
	eventsSent      atomic.Uint64
	eventsComplete  atomic.Uint64
	shoutsSent      atomic.Uint64
	eventBytes      atomic.Uint64
	replyBytes      atomic.Uint64
	replyFrames     atomic.Uint64
	broadcastFrames atomic.Uint64
}

type benchErrors struct {
	dialFailures       atomic.Uint64
	eventWriteFailures atomic.Uint64
	decodeFailures     atomic.Uint64
	unexpectedEvents   atomic.Uint64
	tokenMissing       atomic.Uint64
	totalErrors        atomic.Uint64
}

func runClient(
	ctx context.Context,
	wsURL string,
	clientID int,
	cfg benchConfig,
	counters *benchCounters,
	errCounts *benchErrors,
	samples chan<- time.Duration,
) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		errCounts.dialFailures.Add(1)
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	period := time.Duration(float64(time.Second) / cfg.RPS)
	var seq uint64

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		seq++
		token := makeToken(clientID, seq, cfg.PayloadBytes)
		name, reply := eventEcho, eventEchoed
		if cfg.ShoutEvery > 0 && seq%uint64(cfg.ShoutEvery) == 0 {
			name, reply = eventShout, eventShouted
			counters.shoutsSent.Add(1)
		}

		start := time.Now()

		payload := protocol.MustEncode(name, map[string]any{"token": token})
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			errCounts.eventWriteFailures.Add(1)
			return fmt.Errorf("event write: %w", err)
		}

		counters.eventsSent.Add(1)
		counters.eventBytes.Add(uint64(len(payload)))

		conn.SetReadDeadline(time.Now().Add(cfg.EventTimeout))
		eventCtx, cancel := context.WithTimeout(ctx, cfg.EventTimeout)
		err := waitForToken(eventCtx, conn, reply, token, counters, errCounts)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				errCounts.tokenMissing.Add(1)
				return fmt.Errorf("token not echoed")
			}
			return fmt.Errorf("wait for token: %w", err)
		}

		rtt := time.Since(start)
		counters.eventsComplete.Add(1)
		samples <- rtt

		if sleep := period - rtt; sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}

// waitForToken reads until a reply event carrying token arrives. Shouts from
// other clients seen on the way are counted and skipped.
func waitForToken(
	ctx context.Context,
	conn *websocket.Conn,
	reply string,
	token string,
	counters *benchCounters,
	errCounts *benchErrors,
) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			errCounts.decodeFailures.Add(1)
			return err
		}

		switch msg.Name {
		case eventEchoed, eventShouted:
			got, _ := msg.Data["token"].(string)
			if msg.Name == reply && got == token {
				counters.replyFrames.Add(1)
				counters.replyBytes.Add(uint64(len(raw)))
				return nil
			}
			if msg.Name == eventShouted {
				counters.broadcastFrames.Add(1)
			}

		default:
			errCounts.unexpectedEvents.Add(1)
		}
	}
}

func makeToken(clientID int, seq uint64, payloadBytes int) string {
	if payloadBytes <= 0 {
		return ""
	}
	seed := (uint64(clientID) << 32) ^ seq
	base := strings.ToLower(strconv.FormatUint(seed, 36))
	if len(base) >= payloadBytes {
		return base[len(base)-payloadBytes:]
	}
	return base + strings.Repeat("x", payloadBytes-len(base))
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
