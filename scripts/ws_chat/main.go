package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/deskchat/deskchat-server/internal/relay"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws/chats", "WebSocket address")
	userPK := flag.Int64("user", 0, "participant id")
	target := flag.Int64("target", 0, "customer id to answer (admin mode)")
	admin := flag.Bool("admin", false, "send frames flagged as admin replies")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	// Handshake frame: carries identity, is never persisted.
	connect := relay.Inbound{UserPK: *userPK, Message: relay.ControlConnect}
	if err := wsjson.Write(ctx, conn, connect); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	fmt.Printf("Connected to %s as participant %d\n", *addr, *userPK)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *userPK, *target, *admin)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		var frame relay.ChatFrame
		if err := json.Unmarshal(data, &frame); err == nil && frame.ID != 0 {
			who := "customer"
			if frame.IsFromAdmin {
				who = "admin"
			}
			if frame.FromCustomerPK != 0 {
				fmt.Printf("[thread %d] %s (from customer %d): %s\n", frame.UserPK, who, frame.FromCustomerPK, frame.Message)
			} else {
				fmt.Printf("[thread %d] %s: %s\n", frame.UserPK, who, frame.Message)
			}
			continue
		}

		fmt.Printf("server: %s\n", data)
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, userPK, target int64, admin bool) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	threadPK := userPK
	if admin && target != 0 {
		threadPK = target
	}

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			frame := relay.Inbound{UserPK: threadPK, Message: text, IsFromAdmin: admin}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
