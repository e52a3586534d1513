package main

import (
	"context"
	"fmt"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/vcodec/archive"
)

var (
	unpack_command = app.Command("unpack", "Unpack every .dir/.img archive of a folder.")
	unpack_folder  = unpack_command.Arg("folder", "Folder holding the archives.").Required().ExistingDir()
	unpack_dest    = unpack_command.Arg("destination", "Archives are unpacked into subfolders here.").Required().String()
	unpack_jobs    = unpack_command.Flag("jobs", "Archives unpacked in parallel.").Short('j').Default("1").Int()

	pack_command = app.Command("pack", "Pack a folder into a .dir/.img archive.")
	pack_folder  = pack_command.Arg("folder", "The files to pack.").Required().ExistingDir()
	pack_archive = pack_command.Arg("archive", "Archive path without extension.").Required().String()
)

func doUnpack() {
	results, err := archive.UnpackAll(context.Background(),
		*unpack_folder, *unpack_dest, *unpack_jobs)
	kingpin.FatalIfError(err, "Unpack")

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			fmt.Printf("%v %v: %v\n", red("failed"), result.Archive, result.Err)
			continue
		}
		fmt.Printf("%v %v (%d files)\n", green("unpacked"), result.Archive,
			len(result.Entries))
	}

	if failed > 0 {
		kingpin.Fatalf("%d of %d archives failed", failed, len(results))
	}
}

func doPack() {
	entries, err := archive.PackDir(context.Background(), *pack_folder,
		*pack_archive+".dir", *pack_archive+".img")
	kingpin.FatalIfError(err, "Pack")

	for _, entry := range entries {
		fmt.Printf("%-24v %8d @ %#x\n", entry.Name, entry.Size, entry.Offset)
	}
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case unpack_command.FullCommand():
			doUnpack()
		case pack_command.FullCommand():
			doPack()
		default:
			return false
		}
		return true
	})
}
