package main

import (
	"context"
	"fmt"
	"os"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/vcodec"
)

var (
	dump_command = app.Command("dump", "Decode a file and print it as JSON.")
	dump_schema  = dump_command.Arg("schema", "The schema describing the format.").Required().ExistingFile()
	dump_file    = dump_command.Arg("file", "The file to decode.").Required().ExistingFile()
	dump_type    = dump_command.Flag("type", "Decode a single struct rather than the layout.").String()
	dump_params  = dump_command.Flag("param", "Expression parameters (key=value).").StringMap()
)

func doDump() {
	model, err := vcodec.LoadSchemaFile(*dump_schema)
	kingpin.FatalIfError(err, "Loading schema")

	options := &vcodec.Options{
		Parameters: parseKeyValues(*dump_params),
		Scope:      makeScope(),
	}

	ctx := context.Background()
	var result interface{}
	if *dump_type != "" {
		fd, err := os.Open(*dump_file)
		kingpin.FatalIfError(err, "Opening %v", *dump_file)
		defer fd.Close()

		result, err = vcodec.Read(ctx, model, *dump_type, fd, options)
		kingpin.FatalIfError(err, "Decoding %v", *dump_file)

	} else {
		result, err = vcodec.ReadFile(ctx, model, *dump_file, options)
		kingpin.FatalIfError(err, "Decoding %v (%v)", *dump_file, vcodec.Kind(err))
	}

	fmt.Println(vcodec.StringIndent(result))
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case dump_command.FullCommand():
			doDump()
		default:
			return false
		}
		return true
	})
}
