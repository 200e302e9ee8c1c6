// riskctl is the operator tool for the engine's kill-switch: inspect the
// current risk state and explicitly re-enable trading after a trip.
//
// Usage:
//
//	riskctl -addr http://localhost:8080 status
//	riskctl -addr http://localhost:8080 enable
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "engine API base URL")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "status"
	}

	client := &http.Client{Timeout: 10 * time.Second}
	var resp *http.Response
	var err error
	switch cmd {
	case "status":
		resp, err = client.Get(*addr + "/api/v1/risk")
	case "enable":
		resp, err = client.Post(*addr+"/api/v1/risk/enable", "application/json", nil)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want status or enable)\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("riskctl: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("riskctl: %s returned %d: %s", cmd, resp.StatusCode, body)
	}
	fmt.Printf("%s", body)
}
