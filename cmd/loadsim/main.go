// Command loadsim drives a running Signato API with synthetic signing
// traffic: each worker creates an envelope, places fields, sends it and
// signs it to completion.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"signato.org/internal/sim"
)

func main() {
	var (
		baseURL     = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers     = flag.Int("workers", 4, "Concurrent worker count")
		duration    = flag.Duration("duration", 2*time.Minute, "Duration of the simulation")
		openAIModel = flag.String("openai-model", "gpt-4o-mini", "OpenAI model for summaries (optional)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("Launching signing simulation: base=%s workers=%d duration=%s", *baseURL, *workers, *duration)

	token, err := issueToken(ctx, *baseURL)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	client := &client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: *baseURL,
		token:   token,
	}
	generator := sim.NewGenerator(time.Now().UnixNano())

	var counter sim.Counter
	var mu sync.Mutex
	var successes int64
	var failures int64
	var conflicts int64
	var rateLimited int64
	var serverErrors int64

	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id*9973)))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				draft := generator.NextDraft()
				err := client.runLifecycle(ctx, draft)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					var se *statusError
					switch {
					case errors.As(err, &se) && se.code == http.StatusConflict:
						atomic.AddInt64(&conflicts, 1)
					case errors.As(err, &se) && se.code == http.StatusTooManyRequests:
						atomic.AddInt64(&rateLimited, 1)
						time.Sleep(250 * time.Millisecond)
					default:
						atomic.AddInt64(&serverErrors, 1)
						log.Printf("worker %d lifecycle failed: %v", id, err)
						time.Sleep(200 * time.Millisecond)
					}
					continue
				}
				atomic.AddInt64(&successes, 1)
				mu.Lock()
				counter.Add(draft)
				mu.Unlock()
				time.Sleep(time.Duration(50+rnd.Intn(120)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	log.Printf("Run complete: %d success / %d failed (conflicts=%d, rate_limited=%d, server_errors=%d), %d envelopes, %d signatures",
		successes, failures, conflicts, rateLimited, serverErrors, counter.Envelopes, counter.Signatures)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" && counter.Envelopes > 0 {
		summary, err := sim.Summarize(ctx, sim.SummaryStats{
			Envelopes:  counter.Envelopes,
			Fields:     counter.Fields,
			Signatures: counter.Signatures,
			Duration:   *duration,
		}, sim.SummaryRequest{APIKey: key, Model: *openAIModel})
		if err != nil {
			log.Printf("AI summary error: %v", err)
		} else {
			log.Println("AI Executive Summary:")
			log.Println(summary)
		}
	} else {
		log.Println("Set OPENAI_API_KEY to enable AI narrative summaries.")
	}
}

type statusError struct {
	code int
	step string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.step, e.code)
}

type client struct {
	http    *http.Client
	baseURL string
	token   string
}

// runLifecycle walks one envelope from draft to completed.
func (c *client) runLifecycle(ctx context.Context, draft sim.Draft) error {
	itemID := uuid.NewString()
	var env struct {
		ID         string `json:"id"`
		Recipients []struct {
			ID string `json:"id"`
		} `json:"recipients"`
		Fields []struct {
			ID string `json:"id"`
		} `json:"fields"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/envelopes", map[string]any{
		"title": draft.Title,
		"items": []map[string]any{{"id": itemID, "title": draft.ItemTitle, "page_count": draft.PageCount}},
	}, http.StatusCreated, &env)
	if err != nil {
		return err
	}
	base := "/v1/envelopes/" + env.ID

	var signer struct {
		ID string `json:"id"`
	}
	err = c.do(ctx, http.MethodPost, base+"/recipients", map[string]any{
		"email": draft.Signer.Email,
		"name":  draft.Signer.Name,
	}, http.StatusCreated, &signer)
	if err != nil {
		return err
	}

	changes := make([]map[string]any, 0, draft.FieldCount)
	for i := 0; i < draft.FieldCount; i++ {
		changes = append(changes, map[string]any{
			"kind": "create",
			"field": map[string]any{
				"form_id":      uuid.NewString(),
				"item_id":      itemID,
				"page":         1,
				"type":         "TEXT",
				"rect":         map[string]any{"position_x": 10, "position_y": 10 + float64(i)*8, "width": 25, "height": 6},
				"recipient_id": signer.ID,
			},
		})
	}
	if err := c.do(ctx, http.MethodPost, base+"/fields/sync", map[string]any{"changes": changes}, http.StatusNoContent, nil); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, base+"/send", nil, http.StatusAccepted, nil); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, base+"/open", map[string]any{"recipient_id": signer.ID}, http.StatusNoContent, nil); err != nil {
		return err
	}

	env.Fields = nil
	if err := c.do(ctx, http.MethodGet, base, nil, http.StatusOK, &env); err != nil {
		return err
	}
	for _, f := range env.Fields {
		err := c.do(ctx, http.MethodPost, base+"/sign", map[string]any{
			"field_id":     f.ID,
			"recipient_id": signer.ID,
			"value":        draft.Signer.Name,
		}, http.StatusNoContent, nil)
		if err != nil {
			return err
		}
	}
	return c.do(ctx, http.MethodPost, base+"/complete", map[string]any{"recipient_id": signer.ID}, http.StatusNoContent, nil)
}

func (c *client) do(ctx context.Context, method, path string, payload any, want int, out any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return &statusError{code: resp.StatusCode, step: method + " " + path}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func issueToken(ctx context.Context, baseURL string) (string, error) {
	payload := map[string]any{
		"user_id": "loadsim",
		"email":   "loadsim@signato.example",
		"name":    "Load Simulator",
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/v1/auth/token", baseURL), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("empty token returned")
	}
	return out.Token, nil
}
