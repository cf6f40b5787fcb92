package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/google/uuid"

	"fileshare/internal/catalog"
	"fileshare/internal/config"
	"fileshare/internal/fsutil"
)

// folder add <name> | folder ls | folder rm <id>
func folderCmd(args []string) int {
	fs := flag.NewFlagSet("folder", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	_ = fs.Parse(args)
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fileshare folder [-state dir] add <name> | ls | rm <id>")
		return 2
	}

	ctx := context.Background()
	_, store, err := adminCatalog(ctx, &common)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer store.Close()

	switch rest[0] {
	case "add":
		if len(rest) != 2 {
			fmt.Fprintln(os.Stderr, "usage: fileshare folder add <name>")
			return 2
		}
		id, err := store.InsertFolder(ctx, rest[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(id)
	case "ls":
		folders, err := store.QueryFolders(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME")
		for _, f := range folders {
			fmt.Fprintf(tw, "%d\t%s\n", f.ID, f.DisplayName)
		}
		_ = tw.Flush()
	case "rm":
		if len(rest) != 2 {
			fmt.Fprintln(os.Stderr, "usage: fileshare folder rm <id>")
			return 2
		}
		id, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad folder id %q\n", rest[1])
			return 2
		}
		if err := store.DeleteFolder(ctx, id); err != nil {
			if errors.Is(err, catalog.ErrReservedFolder) {
				fmt.Fprintln(os.Stderr, "the public folder cannot be removed")
				return 1
			}
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown folder command %q\n", rest[0])
		return 2
	}
	return 0
}

// file add <folderId> <path> | file ls <folderId> | file rm <fileId>
func fileCmd(args []string) int {
	fs := flag.NewFlagSet("file", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	_ = fs.Parse(args)
	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "usage: fileshare file [-state dir] add <folderId> <path> | ls <folderId> | rm <fileId>")
		return 2
	}
	id, err := strconv.ParseInt(rest[1], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad id %q\n", rest[1])
		return 2
	}

	ctx := context.Background()
	cfg, store, err := adminCatalog(ctx, &common)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer store.Close()

	switch rest[0] {
	case "add":
		if len(rest) != 3 {
			fmt.Fprintln(os.Stderr, "usage: fileshare file add <folderId> <path>")
			return 2
		}
		fileID, err := importFile(ctx, store, cfg.UploadsDir(), id, rest[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(fileID)
	case "ls":
		files, err := store.QueryFiles(ctx, id)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tDATA")
		for _, f := range files {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", f.ID, f.DisplayName, f.DataRef.Path)
		}
		_ = tw.Flush()
	case "rm":
		// The blob stays on disk; only the catalog row goes.
		if err := store.DeleteFile(ctx, id); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown file command %q\n", rest[0])
		return 2
	}
	return 0
}

func adminCatalog(ctx context.Context, common *commonFlags) (config.Config, *catalog.Store, error) {
	cfg, err := common.load()
	if err != nil {
		return cfg, nil, err
	}
	store, err := openCatalog(ctx, cfg)
	return cfg, store, err
}

// importFile copies src into the uploads dir and registers the copy.
func importFile(ctx context.Context, store *catalog.Store, dir string, folderID int64, src string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	tmp := filepath.Join(dir, ".import-"+uuid.NewString()+".part")
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}

	name := fsutil.SafeName(filepath.Base(src))
	dst, err := fsutil.PlaceNoClobber(tmp, dir, name)
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	id, err := store.InsertFile(ctx, folderID, name, catalog.RawContentRef{Path: dst})
	if err != nil {
		_ = os.Remove(dst)
		return 0, err
	}
	return id, nil
}
