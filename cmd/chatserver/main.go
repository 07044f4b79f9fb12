// Command chatserver runs the realtime side of the chat backend: the
// WebSocket server with presence, conversation rooms, and the NATS-backed
// message relay. Durable writes happen in apiserver; this process only fans
// already-persisted messages out to connected clients.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Raditt10/IRMA-Verse/internal/auth"
	"github.com/Raditt10/IRMA-Verse/internal/config"
	"github.com/Raditt10/IRMA-Verse/internal/messaging"
	"github.com/Raditt10/IRMA-Verse/internal/metrics"
	"github.com/Raditt10/IRMA-Verse/internal/presence"
	"github.com/Raditt10/IRMA-Verse/internal/protocol"
	"github.com/Raditt10/IRMA-Verse/internal/ratelimit"
	"github.com/Raditt10/IRMA-Verse/internal/relay"
	"github.com/Raditt10/IRMA-Verse/internal/room"
	"github.com/Raditt10/IRMA-Verse/internal/session"
	"github.com/Raditt10/IRMA-Verse/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("auth error: %v", err)
	}

	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ChatListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}

	// --- Redis ---
	sessionStore, err := session.NewStore(cfg.RedisAddr, cfg.ServerName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	limiter := ratelimit.NewLimiter(sessionStore.Client())

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NatsURL
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	rel := relay.NewRelay(natsClient)

	log.Printf("IRMA-Verse chat server starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  nats_url:        %s", cfg.NatsURL)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  server_name:     %s", cfg.ServerName)

	// Declare server early so closures can capture it.
	var server *ws.Server

	// --- Presence ---
	// Edges broadcast presence changes to everyone and manage the per-user
	// notification subscription: a user only needs one regardless of how
	// many tabs they have open.
	tracker := presence.NewTracker(
		func(userID string) { // online edge
			metrics.OnlineUsers.Inc()
			if err := natsClient.SubscribeNotify(userID, func(data []byte) {
				notif, err := relay.DecodeNotification(data)
				if err != nil {
					log.Printf("[notify] decode error for user=%s: %v", userID, err)
					return
				}
				msg, _ := protocol.NewServerMessage(protocol.TypeMessageNotification, protocol.MessageNotificationMsg{
					ConversationID: notif.ConversationID,
					SenderID:       notif.SenderID,
					SenderName:     notif.SenderName,
				})
				server.Connections().SendToUser(userID, msg)
			}); err != nil {
				log.Printf("[notify] subscribe failed for user=%s: %v", userID, err)
			}

			msg, _ := protocol.NewServerMessage(protocol.TypePresenceOnline, protocol.PresenceChangeMsg{
				UserID: userID,
			})
			server.Connections().Broadcast(msg)
		},
		func(userID string) { // offline edge
			metrics.OnlineUsers.Dec()
			_ = natsClient.UnsubscribeNotify(userID)

			msg, _ := protocol.NewServerMessage(protocol.TypePresenceOffline, protocol.PresenceChangeMsg{
				UserID: userID,
			})
			server.Connections().Broadcast(msg)
		},
	)

	// --- Rooms ---
	// Assigned after the server exists: the fanout delivers through the
	// server's connection manager, and the router takes the fanout's Handle
	// as its event callback. The dispatcher closures below only run once the
	// server is serving, so capturing the variable is safe.
	var router *room.Router

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// conversation:join — start receiving realtime events for a conversation
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinConversation, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinConversationMsg)
		if !ok || joinMsg.ConversationID == "" {
			dispatcher.SendError(conn, "invalid_join", "conversation_id is required")
			return
		}

		if err := router.Join(joinMsg.ConversationID, conn.ID); err != nil {
			log.Printf("join failed conn=%s conversation=%s: %v", conn.ID, joinMsg.ConversationID, err)
			dispatcher.SendError(conn, "join_failed", "could not join conversation")
			return
		}
		metrics.OpenRooms.Set(float64(router.Rooms()))

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sessionStore.SetConversation(ctx, conn.ID, joinMsg.ConversationID)

		log.Printf("conversation:join conn=%s user=%s conversation=%s",
			conn.ID, conn.UserID, joinMsg.ConversationID)
	})

	// -----------------------------------------------------------------------
	// conversation:leave — stop receiving events; idempotent
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveConversation, func(conn *ws.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveConversationMsg)
		if !ok || leaveMsg.ConversationID == "" {
			return
		}

		// A leave while typing implies the indicator must not stay stuck.
		if tracker.ClearTyping(leaveMsg.ConversationID, conn.UserID) {
			_ = rel.SendTyping(relay.KindTypingStop, leaveMsg.ConversationID, conn.UserID)
		}

		router.Leave(leaveMsg.ConversationID, conn.ID)
		metrics.OpenRooms.Set(float64(router.Rooms()))

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sessionStore.ClearConversation(ctx, conn.ID)

		log.Printf("conversation:leave conn=%s conversation=%s", conn.ID, leaveMsg.ConversationID)
	})

	// -----------------------------------------------------------------------
	// message:send — relay an already-persisted message
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessageSend, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.MessageSendMsg)
		if !ok {
			return
		}

		// The socket's identity wins over whatever the payload claims.
		if sendMsg.SenderID != conn.UserID {
			metrics.MessagesRejected.WithLabelValues("unauthorized").Inc()
			dispatcher.SendError(conn, "sender_mismatch", "sender does not match connection")
			return
		}
		if !router.InRoom(sendMsg.ConversationID, conn.ID) {
			metrics.MessagesRejected.WithLabelValues("unauthorized").Inc()
			dispatcher.SendError(conn, "not_joined", "join the conversation before sending")
			return
		}
		if err := protocol.ValidateContent(sendMsg.Content); err != nil {
			metrics.MessagesRejected.WithLabelValues("invalid").Inc()
			dispatcher.SendError(conn, "invalid_message", err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleMessage); !allowed {
			metrics.MessagesRejected.WithLabelValues("rate_limited").Inc()
			dispatcher.SendError(conn, "rate_limited", "too many messages, slow down")
			return
		}

		// Sending ends the typing burst even if the client forgot to say so.
		if tracker.ClearTyping(sendMsg.ConversationID, conn.UserID) {
			_ = rel.SendTyping(relay.KindTypingStop, sendMsg.ConversationID, conn.UserID)
		}

		if err := rel.SendMessage(relay.Event{
			Kind:           relay.KindMessage,
			ConversationID: sendMsg.ConversationID,
			SenderID:       sendMsg.SenderID,
			SenderName:     sendMsg.SenderName,
			RecipientID:    sendMsg.RecipientID,
			Content:        sendMsg.Content,
			MessageID:      sendMsg.MessageID,
			CreatedAt:      sendMsg.CreatedAt,
		}); err != nil {
			metrics.MessagesRejected.WithLabelValues("invalid").Inc()
			dispatcher.SendError(conn, "invalid_message", err.Error())
			return
		}

		log.Printf("message:send conn=%s conversation=%s message=%s",
			conn.ID, sendMsg.ConversationID, sendMsg.MessageID)
	})

	// -----------------------------------------------------------------------
	// typing:start / typing:stop — pure forwarding with stop suppression
	// -----------------------------------------------------------------------
	typingHandler := func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok || typingMsg.ConversationID == "" {
			return
		}
		if !router.InRoom(typingMsg.ConversationID, conn.ID) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleTyping); !allowed {
			return
		}

		kind := relay.KindTypingStart
		if typingMsg.Type == protocol.TypeTypingStop {
			kind = relay.KindTypingStop
		}

		if kind == relay.KindTypingStart {
			tracker.SetTyping(typingMsg.ConversationID, conn.UserID)
		} else if !tracker.ClearTyping(typingMsg.ConversationID, conn.UserID) {
			// Redundant stop: the burst was already ended, don't re-relay.
			return
		}

		_ = rel.SendTyping(kind, typingMsg.ConversationID, conn.UserID)
	}
	dispatcher.Register(protocol.TypeTypingStart, typingHandler)
	dispatcher.Register(protocol.TypeTypingStop, typingHandler)

	server = ws.NewServer(serverConfig, tokens, sessionStore, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Fan conversation events out to room members, skipping the sender's own
	// connections (no echo).
	fan := room.NewFanout(server)
	router = room.NewRouter(natsClient, fan.Handle)
	fan.Bind(router)

	// New connection: enforce the connect rate limit, register presence, and
	// send the online snapshot.
	server.SetOnConnect(func(conn *ws.Connection) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleConnect); !allowed {
			log.Printf("connect rate limited user=%s", conn.UserID)
			server.RemoveConnection(conn)
			return
		}

		tracker.Connect(conn.UserID, conn.ID)

		msg, _ := protocol.NewServerMessage(protocol.TypePresenceState, protocol.PresenceStateMsg{
			UserIDs: tracker.Online(),
		})
		if err := conn.WriteMessage(msg); err != nil {
			log.Printf("presence:state send failed conn=%s: %v", conn.ID, err)
		}
	})

	// Disconnect: leave every room, clear presence, and end any typing
	// bursts the vanished user left behind.
	server.SetOnDisconnect(func(conn *ws.Connection) {
		router.DisconnectAll(conn.ID)
		metrics.OpenRooms.Set(float64(router.Rooms()))

		userID, typingCleared := tracker.Disconnect(conn.ID)
		for _, conversationID := range typingCleared {
			_ = rel.SendTyping(relay.KindTypingStop, conversationID, userID)
		}
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
