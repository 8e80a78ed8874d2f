// Command smoke-api runs one envelope through its full lifecycle against a
// live API instance and verifies the audit trail it leaves behind.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	baseURL := os.Getenv("SIGNATO_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token, err := issueToken(ctx, baseURL)
	if err != nil {
		log.Fatalf("issue token at %s: %v", baseURL, err)
	}
	c := &smokeClient{baseURL: baseURL, token: token}

	var env struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Fields []struct {
			ID string `json:"id"`
		} `json:"fields"`
	}
	err = c.do(ctx, http.MethodPost, "/v1/envelopes", map[string]any{
		"title": fmt.Sprintf("Smoke Test %d", time.Now().Unix()),
		"items": []map[string]any{{"id": "smoke-item", "title": "smoke.pdf", "page_count": 1}},
	}, http.StatusCreated, &env)
	if err != nil {
		log.Fatalf("create envelope: %v", err)
	}
	base := "/v1/envelopes/" + env.ID

	var signer struct {
		ID string `json:"id"`
	}
	err = c.do(ctx, http.MethodPost, base+"/recipients", map[string]any{
		"email": "smoke@signato.example",
		"name":  "Smoke Signer",
	}, http.StatusCreated, &signer)
	if err != nil {
		log.Fatalf("add recipient: %v", err)
	}

	err = c.do(ctx, http.MethodPost, base+"/fields/sync", map[string]any{
		"changes": []map[string]any{{
			"kind": "create",
			"field": map[string]any{
				"form_id":      fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
				"item_id":      "smoke-item",
				"page":         1,
				"type":         "TEXT",
				"rect":         map[string]any{"position_x": 10, "position_y": 20, "width": 25, "height": 6},
				"recipient_id": signer.ID,
			},
		}},
	}, http.StatusNoContent, nil)
	if err != nil {
		log.Fatalf("sync fields: %v", err)
	}

	if err := c.do(ctx, http.MethodPost, base+"/send", nil, http.StatusAccepted, nil); err != nil {
		log.Fatalf("send: %v", err)
	}
	if err := c.do(ctx, http.MethodPost, base+"/open", map[string]any{"recipient_id": signer.ID}, http.StatusNoContent, nil); err != nil {
		log.Fatalf("open: %v", err)
	}

	if err := c.do(ctx, http.MethodGet, base, nil, http.StatusOK, &env); err != nil {
		log.Fatalf("get envelope: %v", err)
	}
	if len(env.Fields) != 1 {
		log.Fatalf("expected 1 field after send, got %d", len(env.Fields))
	}
	err = c.do(ctx, http.MethodPost, base+"/sign", map[string]any{
		"field_id":     env.Fields[0].ID,
		"recipient_id": signer.ID,
		"value":        "Smoke Signer",
	}, http.StatusNoContent, nil)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	if err := c.do(ctx, http.MethodPost, base+"/complete", map[string]any{"recipient_id": signer.ID}, http.StatusNoContent, nil); err != nil {
		log.Fatalf("complete: %v", err)
	}

	if err := c.do(ctx, http.MethodGet, base, nil, http.StatusOK, &env); err != nil {
		log.Fatalf("get envelope: %v", err)
	}
	if env.Status != "COMPLETED" {
		log.Fatalf("envelope status = %s, want COMPLETED", env.Status)
	}

	var audit struct {
		Items []struct {
			Type string `json:"type"`
		} `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, base+"/audit", nil, http.StatusOK, &audit); err != nil {
		log.Fatalf("audit trail: %v", err)
	}
	if len(audit.Items) == 0 {
		log.Fatal("audit trail is empty")
	}
	last := audit.Items[len(audit.Items)-1].Type
	if last != "DOCUMENT_COMPLETED" {
		log.Fatalf("last audit entry = %s, want DOCUMENT_COMPLETED", last)
	}

	fmt.Printf("✅ api smoke test passed: envelope=%s audit_entries=%d\n", env.ID, len(audit.Items))
}

type smokeClient struct {
	baseURL string
	token   string
}

func (c *smokeClient) do(ctx context.Context, method, path string, payload any, want int, out any) error {
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %s", method, path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func issueToken(ctx context.Context, baseURL string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"user_id": "smoke",
		"email":   "smoke-runner@signato.example",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
