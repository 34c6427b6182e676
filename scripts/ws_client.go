// Package main runs a demo WebSocket client that streams one optimize request.
//
//	go run ./scripts "TP. Hồ Chí Minh" "Hà Nội" truck
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	origin, dest, vt := "TP. Hồ Chí Minh", "Hà Nội", "truck"
	if len(os.Args) > 2 {
		origin, dest = os.Args[1], os.Args[2]
	}
	if len(os.Args) > 3 {
		vt = os.Args[3]
	}

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/optimize/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "dispatcher")
	if tok := os.Getenv("TOKEN"); tok != "" {
		hdr.Set("Authorization", "Bearer "+tok)
	}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"origin": origin, "destination": dest, "vehicleType": vt})
	if err := c.WriteJSON(wsMessage{Type: "optimize", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	_ = c.SetReadDeadline(time.Now().Add(30 * time.Second))
	for {
		var m wsMessage
		if err := c.ReadJSON(&m); err != nil {
			log.Fatalf("read: %v", err)
		}
		switch m.Type {
		case "result":
			var out struct {
				RequestID string `json:"requestId"`
				Routes    []struct {
					Rank          int     `json:"rank"`
					CandidateID   string  `json:"candidateId"`
					DistanceKm    float64 `json:"distanceKm"`
					DurationHours float64 `json:"durationHours"`
					Cost          struct {
						Total float64 `json:"total"`
					} `json:"cost"`
				} `json:"routes"`
				Recommendations []string `json:"recommendations"`
				DegradedReasons []string `json:"degradedReasons"`
			}
			if err := json.Unmarshal(m.Payload, &out); err != nil {
				log.Fatal(err)
			}
			log.Printf("request %s degraded=%v", out.RequestID, out.DegradedReasons)
			for _, r := range out.Routes {
				log.Printf("  #%d %s %.0f km %.1f h %.0f VND", r.Rank, r.CandidateID, r.DistanceKm, r.DurationHours, r.Cost.Total)
			}
			for _, rec := range out.Recommendations {
				log.Printf("  - %s", rec)
			}
		case "complete":
			return
		default:
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}
}
