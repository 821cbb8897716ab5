package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/OpenBooking/messages"
)

type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Payload   struct {
		Status            string   `json:"status"`
		Message           string   `json:"message"`
		Code              string   `json:"code"`
		Reply             string   `json:"reply"`
		Mode              string   `json:"mode"`
		MissingSlots      []string `json:"missing_slots"`
		UsedDocs          []string `json:"used_docs"`
		BookingID         string   `json:"booking_id"`
		ContinueListening bool     `json:"continue_listening"`
	} `json:"payload"`
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "Server websocket URL")
	caller := flag.String("caller", "text-tester", "Caller identifier sent with each turn")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	if !printNext(conn) {
		return
	}

	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !stdin.Scan() {
			return
		}
		text := strings.TrimSpace(stdin.Text())
		if text == "/quit" {
			return
		}

		payload, _ := sonic.Marshal(messages.TurnPayload{Text: text, Caller: *caller})
		data, _ := sonic.Marshal(messages.ClientMessage{Type: messages.TypeTurn, Payload: payload})
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Fatalf("Failed to send: %v", err)
		}
		if !printNext(conn) {
			return
		}
	}
}

// printNext prints one server message and reports whether the conversation
// goes on.
func printNext(conn *websocket.Conn) bool {
	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Printf("Connection closed: %v", err)
		return false
	}

	var msg serverMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		log.Printf("Unreadable message: %s", data)
		return true
	}

	p := msg.Payload
	switch msg.Type {
	case messages.TypeStatus:
		fmt.Printf("[%s] %s\n", p.Status, p.Message)
	case messages.TypeError:
		fmt.Printf("error %s: %s\n", p.Code, p.Message)
	case messages.TypeOutcome:
		fmt.Printf("bot> %s\n", p.Reply)
		fmt.Printf("     mode=%s missing=%v docs=%v\n", p.Mode, p.MissingSlots, p.UsedDocs)
		if !p.ContinueListening {
			fmt.Printf("Booking complete (id=%q)\n", p.BookingID)
			return false
		}
	}
	return true
}
