package ctl

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/large-farva/livefeed/internal/api"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// newClient returns an API client that shares the CLI's HTTP client.
func newClient(baseURL string) *api.Client {
	c := api.New(baseURL)
	c.HTTP = httpClient
	return c
}

// printJSON prints v as indented JSON.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(b))
	return nil
}
