package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

/*
*

	Simple binary to query the bouncer status server and allow use of docker container health check
	https://docs.docker.com/engine/reference/builder/#healthcheck
	Set HEALTHCHECK_ROUTE=healthz to also fail while the decisions stream is failing.
*/
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	route := os.Getenv("HEALTHCHECK_ROUTE")
	if route == "" {
		route = "ping"
	}

	client := &http.Client{Timeout: 3 * time.Second}
	healthCheckUrl := fmt.Sprintf("http://127.0.0.1:%s/api/v1/%s", port, route)
	resp, err := client.Get(healthCheckUrl)
	if err != nil {
		log.Fatal("error while requesting bouncer's health check route :", err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		os.Exit(0)
	}

	log.Printf("bouncer answered %d on %s", resp.StatusCode, healthCheckUrl)
	os.Exit(1)
}
