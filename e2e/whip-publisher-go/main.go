// Command whip-publisher-go publishes one audio track to a WHIP endpoint and
// prints CONNECTED once ICE/DTLS is up. It deletes the session on exit.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
)

func main() {
	endpoint := envOrDefault("WHIP_URL", "http://127.0.0.1:3333/app/stream")
	timeout := time.Duration(envIntOrDefault("CONNECT_TIMEOUT_SECONDS", 10)) * time.Second

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "peer connection: %v\n", err)
		os.Exit(1)
	}
	defer pc.Close()

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "add transceiver: %v\n", err)
		os.Exit(1)
	}

	connected := make(chan struct{})
	failed := make(chan struct{})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			close(connected)
		case webrtc.PeerConnectionStateFailed:
			close(failed)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create offer: %v\n", err)
		os.Exit(1)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		fmt.Fprintf(os.Stderr, "set local description: %v\n", err)
		os.Exit(1)
	}
	<-gatherComplete

	location, answer, err := publish(ctx, endpoint, pc.LocalDescription().SDP)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publish: %v\n", err)
		os.Exit(1)
	}
	defer unpublish(location)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		fmt.Fprintf(os.Stderr, "set remote description: %v\n", err)
		os.Exit(1)
	}

	select {
	case <-connected:
		fmt.Println("CONNECTED")
	case <-failed:
		fmt.Fprintln(os.Stderr, "connection failed")
		return
	case <-time.After(timeout):
		fmt.Fprintln(os.Stderr, "timed out waiting for connection")
		return
	case <-ctx.Done():
		return
	}

	<-ctx.Done()
}

// publish POSTs the offer and returns the absolute session URL and the answer.
func publish(ctx context.Context, endpoint, offer string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(offer))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	base, err := url.Parse(endpoint)
	if err != nil {
		return "", "", err
	}
	loc, err := base.Parse(resp.Header.Get("Location"))
	if err != nil {
		return "", "", fmt.Errorf("bad Location header: %w", err)
	}
	for _, link := range resp.Header.Values("Link") {
		fmt.Printf("LINK %s\n", link)
	}
	return loc.String(), string(body), nil
}

func unpublish(location string) {
	req, err := http.NewRequest(http.MethodDelete, location, nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}
