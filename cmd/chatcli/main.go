// Command chatcli is a terminal client for the Murmur relay. It wires the
// full SDK together: credential provider, transport (WebSocket or NATS),
// shared or in-memory dedup cache, the channel session, and a Prometheus
// metrics endpoint.
//
// Configuration is taken from the environment:
//
//	RELAY_ADDR    relay address (default ws://localhost:8080/relay)
//	TRANSPORT     "ws" or "nats" (default ws)
//	USER_ID       identity for the static credential provider
//	AUTH_TOKEN    bearer token; a JWT selects the JWT provider and its
//	              subject claim overrides USER_ID
//	REDIS_ADDR    optional; enables the shared Redis dedup cache
//	METRICS_ADDR  optional; serves /metrics when set (e.g. :9100)
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/murmur/chat-client/internal/auth"
	"github.com/murmur/chat-client/internal/dedup"
	"github.com/murmur/chat-client/internal/metrics"
	"github.com/murmur/chat-client/internal/protocol"
	"github.com/murmur/chat-client/internal/session"
	"github.com/murmur/chat-client/internal/transport"
	"github.com/murmur/chat-client/internal/transport/natsrelay"
	"github.com/murmur/chat-client/internal/transport/wsocket"
)

func main() {
	addr := "ws://localhost:8080/relay"
	if v := os.Getenv("RELAY_ADDR"); v != "" {
		addr = v
	}
	transportKind := "ws"
	if v := os.Getenv("TRANSPORT"); v != "" {
		transportKind = v
	}

	creds, err := buildCredentials()
	if err != nil {
		log.Fatalf("credentials: %v", err)
	}
	if creds.UserID() == "" {
		log.Fatal("no identity: set USER_ID or a JWT AUTH_TOKEN")
	}

	var factory transport.Factory
	switch transportKind {
	case "ws":
		factory = wsocket.Factory
	case "nats":
		factory = natsrelay.Factory
	default:
		log.Fatalf("unknown TRANSPORT %q (want ws or nats)", transportKind)
	}

	cfg := session.DefaultConfig(addr)

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("redis connection failed: %v", err)
		}
		cancel()
		cfg.Cache = dedup.NewRedisCache(client, creds.UserID())
		defer client.Close()
	}

	if metricsAddr := os.Getenv("METRICS_ADDR"); metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Printf("metrics listening on %s", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	log.Printf("Murmur relay client starting")
	log.Printf("  relay_addr: %s", addr)
	log.Printf("  transport:  %s", transportKind)
	log.Printf("  user_id:    %s", creds.UserID())

	sess := session.New(creds, factory, cfg)
	defer sess.Close()

	sess.Subscribe(printEvent)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = sess.Initialize(ctx)
	cancel()
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	go inputLoop(sess)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("shutting down")
}

// buildCredentials picks the JWT provider when AUTH_TOKEN looks like a JWT,
// and falls back to static credentials otherwise.
func buildCredentials() (auth.Provider, error) {
	token := os.Getenv("AUTH_TOKEN")
	userID := os.Getenv("USER_ID")

	if strings.Count(token, ".") == 2 {
		p, err := auth.NewJWTProvider(token, nil)
		if err == nil {
			return p, nil
		}
		log.Printf("AUTH_TOKEN is not a usable JWT (%v), using static credentials", err)
	}
	return auth.NewStatic(userID, token), nil
}

// inputLoop reads commands from stdin and turns them into outbound events.
func inputLoop(sess *session.ChannelSession) {
	usage := func() {
		fmt.Println("commands:")
		fmt.Println("  /msg <user> <text>   send a chat message")
		fmt.Println("  /typing <user>       send a typing indicator (auto-clears)")
		fmt.Println("  /call <user>         send a call request")
		fmt.Println("  /await <user>        wait for an offer from <user>")
		fmt.Println("  /quit")
	}
	usage()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd := strings.SplitN(line, " ", 3)

		switch cmd[0] {
		case "/msg":
			if len(cmd) < 3 {
				usage()
				continue
			}
			sess.Send(protocol.Event{
				Type:       protocol.TypeMessage,
				ReceiverID: cmd[1],
				Content:    cmd[2],
			})

		case "/typing":
			if len(cmd) < 2 {
				usage()
				continue
			}
			sess.SendTyping(cmd[1], true)

		case "/call":
			if len(cmd) < 2 {
				usage()
				continue
			}
			sess.Send(protocol.Event{
				Type:       protocol.TypeVoiceCall,
				ReceiverID: cmd[1],
				CallData:   &protocol.CallData{Type: protocol.CallRequest},
			})

		case "/await":
			if len(cmd) < 2 {
				usage()
				continue
			}
			fmt.Printf("waiting for offer from %s...\n", cmd[1])
			if call := sess.AwaitOffer(context.Background(), cmd[1]); call != nil {
				fmt.Printf("offer received: %s\n", call.Offer.SDP)
			} else {
				fmt.Println("no offer arrived")
			}

		case "/quit":
			os.Exit(0)

		default:
			usage()
		}
	}
}

// printEvent renders one delivered event on the terminal.
func printEvent(ev protocol.Event) {
	switch ev.Type {
	case protocol.TypeConnectionStatus:
		fmt.Printf("* connection %s\n", ev.ConnectionStatus)
	case protocol.TypeMessage:
		fmt.Printf("[%s] %s\n", ev.SenderID, ev.Content)
	case protocol.TypeUserConnected:
		fmt.Printf("* %s connected\n", ev.UserID)
	case protocol.TypeTyping:
		if ev.IsTyping {
			fmt.Printf("* %s is typing...\n", ev.SenderID)
		} else {
			fmt.Printf("* %s stopped typing\n", ev.SenderID)
		}
	case protocol.TypeVoiceCall:
		subtype := ""
		if ev.CallData != nil {
			subtype = ev.CallData.Type
		}
		fmt.Printf("* call %s from %s\n", subtype, ev.SenderID)
	case protocol.TypeIceCandidate:
		fmt.Printf("* ice candidate from %s\n", ev.SenderID)
	}
}
