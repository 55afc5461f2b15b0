// Command gridserver is a minimal game server used to exercise the harness.
// It speaks the join/leave/start protocol over a websocket at /ws and logs
// player activity with the standard logger, whose text is what tests assert on.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type gameStart struct {
	GameID   string `json:"game_id"`
	YourRole string `json:"your_role"`
	Opponent string `json:"opponent"`
	Turn     string `json:"turn"`
}

type session struct {
	conn *websocket.Conn
	name string
	wmu  sync.Mutex
}

func (s *session) send(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteJSON(v)
}

type lobby struct {
	mu       sync.Mutex
	sessions map[*websocket.Conn]*session
	order    []*session
}

func newLobby() *lobby {
	return &lobby{sessions: make(map[*websocket.Conn]*session)}
}

func (l *lobby) serve(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()
	s := &session{conn: conn}
	l.mu.Lock()
	l.sessions[conn] = s
	l.order = append(l.order, s)
	l.mu.Unlock()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Disconnected: %v", err)
			l.leave(conn)
			return
		}
		var m envelope
		if err := json.Unmarshal(msg, &m); err != nil {
			log.Println("Bad message:", err)
			continue
		}
		switch m.Type {
		case "join":
			l.join(conn, m.Data)
		case "leave":
			l.leave(conn)
		case "start":
			l.start()
		default:
			log.Println("Unknown message type:", m.Type)
		}
	}
}

func (l *lobby) join(conn *websocket.Conn, raw json.RawMessage) {
	var data struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Println("Invalid join data:", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.sessions[conn]; ok {
		s.name = data.Name
		log.Printf("Player joined: %s", data.Name)
	}
}

func (l *lobby) leave(conn *websocket.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[conn]
	if !ok {
		return
	}
	log.Printf("Player left: %s", s.name)
	delete(l.sessions, conn)
	for i, v := range l.order {
		if v == s {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	_ = conn.Close()
}

func (l *lobby) start() {
	l.mu.Lock()
	if len(l.order) < 2 {
		l.mu.Unlock()
		log.Println("Not enough players for game start")
		return
	}
	px, po := l.order[0], l.order[1]
	l.mu.Unlock()

	turn := "X"
	if rand.Intn(2) == 0 {
		turn = "O"
	}
	id := fmt.Sprintf("%d", time.Now().UnixNano())
	log.Printf("[Game %s] Started between %s (X) and %s (O) | Turn: %s", id, px.name, po.name, turn)
	for _, p := range []struct {
		s        *session
		role     string
		opponent string
	}{{px, "X", po.name}, {po, "O", px.name}} {
		msg := map[string]any{"type": "game_start", "data": gameStart{GameID: id, YourRole: p.role, Opponent: p.opponent, Turn: turn}}
		if err := p.s.send(msg); err != nil {
			log.Printf("[Game %s] Failed to send game_start to %s: %v", id, p.s.name, err)
		}
	}
}

func main() {
	port := flag.Int("port", 8080, "Port to run server on")
	ignoreTerm := flag.Bool("ignore-sigterm", false, "Ignore SIGTERM (exercises kill escalation)")
	flag.Parse()

	if *port < 1024 || *port > 65535 {
		log.Fatalf("Invalid port number: %d", *port)
	}
	if *ignoreTerm {
		signal.Ignore(syscall.SIGTERM)
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, os.Interrupt)
		go func() {
			sig := <-ch
			log.Printf("Server stopping: %s", sig)
			os.Exit(0)
		}()
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	lb := newLobby()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("Upgrade error:", err)
			return
		}
		lb.serve(conn)
	})

	addr := fmt.Sprintf("localhost:%d", *port)
	log.Printf("Server starting: %s", addr)
	log.Fatalln(http.ListenAndServe(addr, mux))
}
