// Command publish creates, updates, or deletes the app.bsky.feed.generator
// record that advertises this feed generator to the network.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blackmichael/feedgen/internal/bluesky"
	"github.com/blackmichael/feedgen/internal/config"
)

type options struct {
	handle      string
	password    string
	pds         string
	serviceDID  string
	rkey        string
	displayName string
	description string
	avatarPath  string
	unpublish   bool
	showVersion bool
}

func main() {
	if err := run(parseFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.BoolVar(&opts.showVersion, "version", false, "print the build version and exit")
	flag.StringVar(&opts.handle, "handle", envOrDefault("BLUESKY_HANDLE", ""), "BlueSky handle (e.g. user.bsky.social)")
	flag.StringVar(&opts.password, "password", envOrDefault("BLUESKY_APP_PASSWORD", ""), "BlueSky app password")
	flag.StringVar(&opts.pds, "pds", envOrDefault("BLUESKY_PDS", "https://bsky.social"), "PDS service URL")
	flag.StringVar(&opts.serviceDID, "service-did", envOrDefault("FEEDGEN_SERVICE_DID", ""), "Feed generator service DID (e.g. did:web:feed.example.com)")
	flag.StringVar(&opts.rkey, "rkey", "", "Record key / short name for the feed (e.g. my-cool-feed)")
	flag.StringVar(&opts.displayName, "name", "", "Feed display name (max 24 graphemes)")
	flag.StringVar(&opts.description, "description", "", "Feed description (max 300 graphemes)")
	flag.StringVar(&opts.avatarPath, "avatar-path", "", "Path to avatar image (PNG or JPEG)")
	flag.BoolVar(&opts.unpublish, "unpublish", false, "Delete the feed generator record instead of publishing")
	flag.Parse()
	return opts
}

func run(opts options) error {
	if opts.showVersion {
		fmt.Println(config.Version())
		return nil
	}

	if opts.handle == "" || opts.password == "" {
		return fmt.Errorf("--handle and --password are required (or set BLUESKY_HANDLE and BLUESKY_APP_PASSWORD)")
	}
	if opts.rkey == "" {
		return fmt.Errorf("--rkey is required")
	}

	ctx := context.Background()
	client := bluesky.NewClient(opts.pds)

	fmt.Printf("Logging in as %s...\n", opts.handle)
	if err := client.Login(ctx, opts.handle, opts.password); err != nil {
		return err
	}
	fmt.Printf("Authenticated as %s\n", client.DID())

	if opts.unpublish {
		fmt.Printf("Unpublishing feed %q...\n", opts.rkey)
		if err := client.UnpublishFeedGenerator(ctx, opts.rkey); err != nil {
			return err
		}
		fmt.Printf("Feed unpublished: at://%s/app.bsky.feed.generator/%s\n", client.DID(), opts.rkey)
		return nil
	}

	if opts.serviceDID == "" {
		return fmt.Errorf("--service-did is required for publishing (or set FEEDGEN_SERVICE_DID)")
	}
	if opts.displayName == "" {
		return fmt.Errorf("--name is required for publishing")
	}

	record := bluesky.FeedGeneratorRecord{
		DID:         opts.serviceDID,
		DisplayName: opts.displayName,
		Description: opts.description,
		Avatar:      uploadAvatar(ctx, client, opts.avatarPath),
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	fmt.Printf("Publishing feed %q...\n", opts.rkey)
	if err := client.PublishFeedGenerator(ctx, opts.rkey, record); err != nil {
		return err
	}

	fmt.Printf("Feed published: at://%s/app.bsky.feed.generator/%s\n", client.DID(), opts.rkey)
	return nil
}

// uploadAvatar uploads the image at path, if any. Failures are warnings:
// the record is still published, just without an avatar.
func uploadAvatar(ctx context.Context, client *bluesky.Client, path string) *bluesky.BlobRef {
	if path == "" {
		return nil
	}

	mimeType, err := detectMimeType(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v, skipping avatar upload\n", err)
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to read avatar file: %v, skipping avatar upload\n", err)
		return nil
	}

	fmt.Printf("Uploading avatar from %s...\n", path)
	ref, err := client.UploadBlob(ctx, data, mimeType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to upload avatar: %v, continuing without avatar\n", err)
		return nil
	}
	fmt.Printf("Avatar uploaded (CID: %s, size: %d bytes, type: %s)\n", ref.Ref.Link, ref.Size, ref.MimeType)
	return ref
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func detectMimeType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png", nil
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	default:
		return "", fmt.Errorf("unsupported file extension %q: expected .png, .jpg, or .jpeg", filepath.Ext(path))
	}
}
