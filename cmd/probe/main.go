// Command probe is a diagnostic websocket client: it mints a login token,
// connects to a server, prints every incoming frame and answers pings so the
// session stays alive.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/websocket"
)

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "websocket URL")
	clientID := flag.String("client", "", "client id (required)")
	jwtKey := flag.String("jwt-key", "", "HS256 signing key (required)")
	ttl := flag.Duration("ttl", time.Hour, "token TTL")
	flag.Parse()

	if *clientID == "" || *jwtKey == "" {
		fmt.Fprintln(os.Stderr, "usage: probe -client <id> -jwt-key <key> [-url ws://host/ws]")
		os.Exit(2)
	}

	token, err := mintToken(*jwtKey, *clientID, *ttl)
	if err != nil {
		fail("mint token: %v", err)
	}

	origin := "http" + strings.TrimPrefix(strings.TrimSuffix(*url, "/ws"), "ws")
	conn, err := websocket.Dial(*url, "", origin)
	if err != nil {
		fail("dial: %v", err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	login := map[string]any{
		"type": "login",
		"payload": map[string]any{
			"client_id": *clientID,
			"token":     token,
		},
	}
	if err := enc.Encode(login); err != nil {
		fail("send login: %v", err)
	}

	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			fail("read: %v", err)
		}
		fmt.Printf("%s %s %s\n", time.Now().Format(time.RFC3339), f.Type, string(f.Payload))

		if f.Type == "ping" {
			pong := map[string]any{"type": "pong", "payload": f.Payload}
			if err := enc.Encode(pong); err != nil {
				fail("send pong: %v", err)
			}
		}
	}
}

func mintToken(key, subject string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
