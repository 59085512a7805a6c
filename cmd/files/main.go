// Command files exercises the blob store client (C1) directly:
// upload/download/list/delete/info against the configured bucket.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"

	"p8fs-storage/internal/config"
	"p8fs-storage/internal/objectstore"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}
	store, err := objectstore.NewS3Store(cfg.S3)
	if err != nil {
		log.Printf("construct blob store client: %v", err)
		return 1
	}

	ctx := context.Background()
	sub, rest := args[0], args[1:]

	switch sub {
	case "upload":
		return runUpload(ctx, store, rest)
	case "download":
		return runDownload(ctx, store, rest)
	case "list":
		return runList(ctx, store, rest)
	case "delete":
		return runDelete(ctx, store, rest)
	case "info":
		return runInfo(ctx, store, rest)
	default:
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: files {upload|download|list|delete|info} ...")
	fmt.Fprintln(os.Stderr, "  files upload <tenant> <local-path>")
	fmt.Fprintln(os.Stderr, "  files download <key> <local-path>")
	fmt.Fprintln(os.Stderr, "  files list [prefix]")
	fmt.Fprintln(os.Stderr, "  files delete <key>")
	fmt.Fprintln(os.Stderr, "  files info <key>")
}

func runUpload(ctx context.Context, store *objectstore.S3Store, args []string) int {
	if len(args) != 2 {
		usage()
		return 1
	}
	tenant, path := args[0], args[1]

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res, err := store.Upload(ctx, path, filepath.Base(path), tenant, contentType, objectstore.PutOptions{})
	if err != nil {
		log.Printf("upload %s: %v", path, err)
		return 1
	}
	fmt.Printf("uploaded %s (%d bytes), sha256=%s md5=%s\n", res.FinalPath, res.Size, res.SHA256, res.MD5)
	return 0
}

func runDownload(ctx context.Context, store objectstore.ObjectStore, args []string) int {
	if len(args) != 2 {
		usage()
		return 1
	}
	key, path := args[0], args[1]
	rc, _, err := store.Get(ctx, key)
	if err != nil {
		log.Printf("download %s: %v", key, err)
		return 1
	}
	defer rc.Close()

	out, err := os.Create(path)
	if err != nil {
		log.Printf("create %s: %v", path, err)
		return 1
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		log.Printf("write %s: %v", path, err)
		return 1
	}
	fmt.Printf("downloaded %s -> %s\n", key, path)
	return 0
}

func runList(ctx context.Context, store objectstore.ObjectStore, args []string) int {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	res, err := store.List(ctx, objectstore.ListOptions{Prefix: prefix})
	if err != nil {
		log.Printf("list %s: %v", prefix, err)
		return 1
	}
	for _, o := range res.Objects {
		fmt.Printf("%s\t%d\t%s\n", o.Key, o.Size, o.ETag)
	}
	return 0
}

func runDelete(ctx context.Context, store objectstore.ObjectStore, args []string) int {
	if len(args) != 1 {
		usage()
		return 1
	}
	key := args[0]
	if err := store.Delete(ctx, key); err != nil {
		log.Printf("delete %s: %v", key, err)
		return 1
	}
	fmt.Printf("deleted %s\n", key)
	return 0
}

func runInfo(ctx context.Context, store objectstore.ObjectStore, args []string) int {
	if len(args) != 1 {
		usage()
		return 1
	}
	key := args[0]
	attrs, err := store.Head(ctx, key)
	if err != nil {
		log.Printf("info %s: %v", key, err)
		return 1
	}
	fmt.Printf("key=%s size=%d etag=%s content_type=%s last_modified=%s\n",
		attrs.Key, attrs.Size, attrs.ETag, attrs.ContentType, attrs.LastModified)
	return 0
}
