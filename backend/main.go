// Demo bot surface. It joins a shared-session group over the websocket
// endpoint and echoes every client message, which exercises the full
// broadcast path without a browser on the bot side.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
)

// Action and Event mirror the wire protocol of the websocket package.
type Action struct {
	Type        string `json:"type"`
	Token       string `json:"token,omitempty"`
	Perspective string `json:"perspective,omitempty"`
	Role        string `json:"role,omitempty"`
	Text        string `json:"text,omitempty"`
}

type Event struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Messages  []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"messages,omitempty"`
	Error string `json:"error,omitempty"`
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func main() {
	wsURL := getEnv("WS_URL", "ws://localhost:8080/ws")
	token := getEnv("GROUP_TOKEN", "")
	if token == "" {
		log.Fatal("GROUP_TOKEN is required: the token of the group to join")
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		conn.Close()
	}()

	if err := conn.WriteJSON(Action{Type: "load", Token: token, Perspective: "bot"}); err != nil {
		log.Fatalf("load failed: %v", err)
	}

	log.Printf("Demo bot started, joining group %s", token)

	// Track how much history we have already answered so only new client
	// messages get an echo.
	answered := 0

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			log.Printf("connection closed: %v", err)
			return
		}

		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Printf("error decoding event: %v", err)
			continue
		}

		switch ev.Type {
		case "bound":
			log.Printf("Bound as session %s", ev.SessionID)
		case "error":
			log.Printf("server error: %s", ev.Error)
		case "state":
			if len(ev.Messages) == 0 {
				answered = 0
				continue
			}
			last := ev.Messages[len(ev.Messages)-1]
			if last.Role != "client" || len(ev.Messages) <= answered {
				continue
			}
			answered = len(ev.Messages) + 1 // our reply counts too

			reply := fmt.Sprintf("You said: %s", last.Text)
			if err := conn.WriteJSON(Action{Type: "message", Role: "bot", Text: reply}); err != nil {
				log.Printf("error replying: %v", err)
			}
		}
	}
}
