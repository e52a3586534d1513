package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Velocidex/ordereddict"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/vcodec"
	"www.velocidex.com/golang/vcodec/spells"
)

var (
	spells_command = app.Command("spells", "List the available spells.")

	spell_command     = app.Command("spell", "Cast spells on files.")
	spell_schema      = spell_command.Arg("schema", "The schema describing the format.").Required().ExistingFile()
	spell_names       = spell_command.Flag("spell", "Spell to cast (may be repeated).").Short('s').Required().Strings()
	spell_inputs      = spell_command.Arg("inputs", "Files or directories to process.").Required().Strings()
	spell_options     = spell_command.Flag("option", "Spell options (key=value).").Short('o').StringMap()
	spell_params      = spell_command.Flag("param", "Expression parameters (key=value).").StringMap()
	spell_dry_run     = spell_command.Flag("dry_run", "Never write any file.").Bool()
	spell_target      = spell_command.Flag("target_path", "Write changed files here.").String()
	spell_prefix      = spell_command.Flag("prefix", "Prefix for written file names.").String()
	spell_jobs        = spell_command.Flag("jobs", "Files processed in parallel.").Short('j').Default("1").Int()
	spell_stop        = spell_command.Flag("stop_on_error", "Stop at the first failure.").Bool()
	spell_include     = spell_command.Flag("include", "Only visit nodes of these types.").Short('i').Strings()
	spell_exclude     = spell_command.Flag("exclude", "Never visit nodes of these types.").Short('x').Strings()
	spell_report_only = spell_command.Flag("quiet", "Only print failures and the report.").Short('q').Bool()
)

func doSpells() {
	for _, info := range spells.Spells() {
		mode := green("read only")
		if !info.ReadOnly {
			mode = yellow("modifies")
		}
		fmt.Printf("%-20v %-10v %v\n", info.Name, mode, info.Description)
	}
}

func doSpell() {
	model, err := vcodec.LoadSchemaFile(*spell_schema)
	kingpin.FatalIfError(err, "Loading schema")

	var to_cast []spells.Spell
	for _, name := range *spell_names {
		spell, err := spells.NewSpell(name, parseKeyValues(*spell_options))
		kingpin.FatalIfError(err, "Spell")
		to_cast = append(to_cast, spell)
	}

	batch_options := ordereddict.NewDict().
		Set("dry_run", *spell_dry_run).
		Set("target_path", *spell_target).
		Set("prefix", *spell_prefix).
		Set("jobs", *spell_jobs).
		Set("stop_on_error", *spell_stop).
		Set("include", *spell_include).
		Set("exclude", *spell_exclude)

	batch, err := spells.NewBatch(model, batch_options, to_cast...)
	kingpin.FatalIfError(err, "Batch")
	batch.Scope = makeScope()
	batch.Parameters = parseKeyValues(*spell_params)

	results, err := batch.Run(context.Background(), *spell_inputs)

	failed := 0
	for _, result := range results {
		switch {
		case result.Err != nil:
			failed++
			fmt.Printf("%v %v: %v\n", red(result.Kind), result.Path, result.Err)
		case result.Skipped:
			fmt.Printf("%v %v\n", yellow("skipped"), result.Path)
		case *spell_report_only:
		case result.Output != "":
			fmt.Printf("%v %v -> %v\n", green("written"), result.Path, result.Output)
		default:
			fmt.Printf("%v %v\n", green("ok"), result.Path)
		}
	}

	kingpin.FatalIfError(batch.Report(os.Stdout), "Report")
	kingpin.FatalIfError(err, "Batch")

	if failed > 0 {
		kingpin.Fatalf("%d of %d files failed", failed, len(results))
	}
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case spells_command.FullCommand():
			doSpells()
		case spell_command.FullCommand():
			doSpell()
		default:
			return false
		}
		return true
	})
}
