package main

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/Velocidex/ordereddict"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/vcodec"
	"www.velocidex.com/golang/vfilter"
)

type CommandHandler func(command string) bool

var (
	app = kingpin.New("vcodec", "Schema driven binary file tool.")

	debug_flag = app.Flag("debug", "Trace decoding.").Bool()
	color_flag = app.Flag("color", "Force colored output.").Bool()

	command_handlers []CommandHandler

	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

func makeScope() vfilter.Scope {
	scope := vcodec.MakeScope()
	scope.SetLogger(log.New(os.Stderr, "", 0))
	if *debug_flag {
		scope.AppendVars(ordereddict.NewDict().Set("DEBUG_VCODEC", true))
	}
	return scope
}

// Convert key=value flags into options. Numbers and booleans are
// converted so option parsers see their natural types.
func parseKeyValues(values map[string]string) *ordereddict.Dict {
	result := ordereddict.NewDict()
	for k, v := range values {
		result.Set(k, parseValue(v))
	}
	return result
}

func parseValue(value string) interface{} {
	i, err := strconv.ParseInt(value, 0, 64)
	if err == nil {
		return i
	}

	switch strings.ToLower(value) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	return value
}

func main() {
	app.HelpFlag.Short('h')
	app.UsageTemplate(kingpin.CompactUsageTemplate)

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	color.NoColor = !*color_flag && !isatty.IsTerminal(os.Stdout.Fd())

	for _, handler := range command_handlers {
		if handler(command) {
			return
		}
	}
	kingpin.Fatalf("unknown command %v", command)
}
