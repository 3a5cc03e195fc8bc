package rpc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/fieldmerge/internal/consolidate"
	"github.com/untoldecay/fieldmerge/internal/conversion"
	"github.com/untoldecay/fieldmerge/internal/jira/jiratest"
	"github.com/untoldecay/fieldmerge/internal/state"
	"github.com/untoldecay/fieldmerge/internal/storage/memory"
)

const (
	sourceID = "customfield_10010"
	targetID = "customfield_10020"
	notesID  = "customfield_10030"
)

// newTestSocketPath returns a short socket path under /tmp. t.TempDir() is
// too long for sun_path on macOS.
func newTestSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "fm-rpc-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, SocketName)
}

type testEnv struct {
	jira   *jiratest.Server
	svc    *consolidate.Service
	server *Server
	client *Client
}

func startTestServer(t *testing.T, setup func(s *jiratest.Server)) *testEnv {
	t.Helper()

	js := jiratest.New()
	js.Fields = []jiratest.Field{
		{ID: sourceID, Name: "Legacy Priority", Custom: true, Type: "option", CustomType: conversion.CustomTypePrefix + conversion.KindSelect},
		{ID: targetID, Name: "Priority", Custom: true, Type: "option", CustomType: conversion.CustomTypePrefix + conversion.KindSelect},
		{ID: notesID, Name: "Notes", Custom: true, Type: "string", CustomType: conversion.CustomTypePrefix + "textfield"},
	}
	if setup != nil {
		setup(js)
	}
	js.Start()
	t.Cleanup(js.Close)

	svc := consolidate.New(js.Client(), state.New(memory.New()), consolidate.Options{})
	t.Cleanup(svc.Wait)

	socketPath := newTestSocketPath(t)
	srv := NewServer(socketPath, svc, ServerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
			t.Errorf("server error: %v", err)
		}
	}()
	if err := srv.WaitReady(2 * time.Second); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	client, err := TryConnect(socketPath)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if client == nil {
		t.Fatal("client is nil with a running server")
	}
	t.Cleanup(func() { _ = client.Close() })

	return &testEnv{jira: js, svc: svc, server: srv, client: client}
}
