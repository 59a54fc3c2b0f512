package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/probe"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

func main() {
	baseURL := os.Getenv("ARENA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	wsURL := os.Getenv("ARENA_WS_URL")
	if wsURL == "" {
		wsURL = "ws" + strings.TrimPrefix(strings.TrimRight(baseURL, "/"), "http") + "/ws?uuid=arena-check"
	}

	client := probe.NewClient(baseURL, probe.WithTimeout(5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if h, err := client.Health(ctx); err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Printf("/healthz ok: status=%s redis=%s", h.Status, h.Redis)
	}
	if s, err := client.Stats(ctx); err != nil {
		log.Printf("/stats error: %v", err)
	} else {
		log.Printf("/stats ok: users=%d games=%d rooms=%d conns=%d", s.Users, s.Games, s.Rooms, s.Connections)
	}

	sock := probe.NewSocket(wsURL, 3)
	sock.OnStateChange(func(state probe.State) {
		log.Printf("WS state: %s", state)
	})
	sock.OnMessage(func(env arenadto.Envelope) {
		fmt.Printf("WS event=%s data=%s\n", env.Event, string(env.Data))
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := sock.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	for _, ev := range []string{arenadto.EvQueryLiveUserCount, arenadto.EvQueryLiveGameCount} {
		if err := sock.Send(cctx, ev, nil); err != nil {
			log.Printf("WS send %s error: %v", ev, err)
		}
	}

	// Observe for a short window
	t := time.NewTimer(3 * time.Second)
	<-t.C

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	_ = sock.Close(closeCtx)
}
