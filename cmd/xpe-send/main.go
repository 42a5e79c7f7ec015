package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

// Small operator CLI: send a message through a running bot via the
// panel API.
func main() {
	baseURL := os.Getenv("PANEL_API_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8321"
	}

	if len(os.Args) < 4 {
		fmt.Println("Usage: xpe-send <bot_identity> <chat_id> <message>")
		os.Exit(1)
	}

	identity := os.Args[1]
	chatID := os.Args[2]
	text := os.Args[3]

	payload, _ := json.Marshal(map[string]string{"chat_id": chatID, "text": text})
	resp, err := http.Post(
		fmt.Sprintf("%s/api/bots/%s/send", baseURL, identity),
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = fmt.Sprintf("status %d", resp.StatusCode)
		}
		fmt.Printf("Error: %s\n", apiErr.Error)
		os.Exit(1)
	}

	fmt.Println("Message sent successfully!")
}
