// Command loadtest drives a running server with pairs of users: one side
// sends messages over REST while both keep a WebSocket open and emit
// typing and activity frames at keystroke rate.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"panelchat/internal/logging"
)

type authResponse struct {
	Token string `json:"access_token"`
	ID    string `json:"id"`
}

type stats struct {
	sent, failed, received atomic.Int64
}

func main() {
	app := &cli.App{
		Name:  "loadtest",
		Usage: "Stress a panelchat server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base", Value: "http://localhost:8080", Usage: "server base URL"},
			&cli.IntFlag{Name: "pairs", Value: 50, Usage: "number of user pairs"},
			&cli.IntFlag{Name: "messages", Value: 20, Usage: "messages per sender"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logging.Init("info", "console")
	base, pairs, count := c.String("base"), c.Int("pairs"), c.Int("messages")
	log.Info().Int("users", pairs*2).Int("messages", count).Msg("starting load test")

	var st stats
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(base, pairID, count, &st)
		}(i)
	}
	wg.Wait()

	log.Info().
		Int64("sent", st.sent.Load()).
		Int64("failed", st.failed.Load()).
		Int64("frames_received", st.received.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("load test complete")
	return nil
}

func runPair(base string, pairID, count int, st *stats) {
	a, err := authenticate(base, fmt.Sprintf("u_%d_a", pairID))
	if err != nil {
		log.Error().Err(err).Int("pair", pairID).Msg("authenticate sender")
		return
	}
	b, err := authenticate(base, fmt.Sprintf("u_%d_b", pairID))
	if err != nil {
		log.Error().Err(err).Int("pair", pairID).Msg("authenticate recipient")
		return
	}

	done := make(chan struct{})
	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go keystrokes(base, a.Token, done, st, &wsWg)
	go keystrokes(base, b.Token, done, st, &wsWg)

	for i := 0; i < count; i++ {
		if err := send(base, a.Token, b.ID, fmt.Sprintf("LoadTest Msg %d from pair %d", i, pairID)); err != nil {
			st.failed.Add(1)
			log.Warn().Err(err).Int("pair", pairID).Msg("send failed")
			continue
		}
		st.sent.Add(1)
		time.Sleep(10 * time.Millisecond)
	}
	close(done)
	wsWg.Wait()
}

// keystrokes holds a session open, sending typing and activity frames
// until done, and counts every frame the server pushes.
func keystrokes(base, token string, done <-chan struct{}, st *stats, wg *sync.WaitGroup) {
	defer wg.Done()
	url := "ws" + base[len("http"):] + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket connect")
		return
	}
	defer conn.Close()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			st.received.Add(1)
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			conn.WriteJSON(map[string]string{"type": "unload"})
			return
		case <-ticker.C:
			for _, typ := range []string{"typing", "activity"} {
				if err := conn.WriteJSON(map[string]string{"type": typ}); err != nil {
					return
				}
			}
		}
	}
}

// authenticate registers (ignoring an existing account) and logs in.
func authenticate(base, username string) (*authResponse, error) {
	creds := map[string]string{"username": username, "password": "password123"}
	if resp, err := postJSON(base+"/register", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON(base+"/login", creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login %s: %s", username, resp.Status)
	}
	var data authResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

func send(base, token, to, text string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("to", to)
	mw.WriteField("text", text)
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, base+"/api/messages", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("send: %s", resp.Status)
	}
	return nil
}

func postJSON(url string, data any) (*http.Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.Post(url, "application/json", bytes.NewBuffer(jsonData))
}
