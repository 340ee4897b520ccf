// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Id identifies a catalog entry.
type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	StoreUnavailableId
	PackageFetchFailedId
	InstallableNotFoundId
	BundlerNotFoundId
	BundlerLoadFailedId
	InvalidBundlerResultId
	BuildFailedId
	OutputLinkFailedId
)

type (
	// MarkdownMsg is the Markdown body of an issue.
	MarkdownMsg string

	// HttpLink is a documentation URL.
	HttpLink string

	// Issue is a guidance page shown when a class of error occurs.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id { return i.id }

func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

func (i *Issue) ExtLinks() []HttpLink { return slices.Clone(i.extLinks) }

// Render renders the issue as terminal Markdown using the given glamour
// style ("dark", "light", "notty" or a path to a style file).
func (i *Issue) Render(stylePath string) (string, error) {
	md := string(i.mdMsg)
	links := append(slices.Clone(i.docLinks), i.extLinks...)
	if len(links) > 0 {
		md += "\n\n## See also\n"
		for _, l := range links {
			md += "\n- <" + string(l) + ">"
		}
	}
	return render(md, stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file could not be read or does not match the schema.

## Configuration file locations:
- Linux: ~/.config/appbundle/config.cue
- macOS: ~/Library/Application Support/appbundle/config.cue
- Windows: %APPDATA%\appbundle\config.cue

## Things you can try:
- Print the effective configuration:
~~~
$ appbundle config show
~~~

- Write a default configuration file:
~~~
$ appbundle config init
~~~

## Example configuration:
~~~cue
default_bundler: "github:matthewbauer/nix-bundle"
registry: {
	nixpkgs: "path:/srv/mirror/nixpkgs"
}
ui: verbose: false
~~~`,
	}

	storeUnavailableIssue = &Issue{
		id: StoreUnavailableId,
		mdMsg: `
# The store could not be opened!

appbundle keeps built artifacts in a local store directory.

## Things you can try:
- Check that ` + "`store_dir`" + ` points at a writable directory
- Override it for one run:
~~~
$ APPBUNDLE_STORE_DIR=/tmp/appbundle appbundle bundle .#myapp
~~~`,
	}

	packageFetchFailedIssue = &Issue{
		id: PackageFetchFailedId,
		mdMsg: `
# Failed to fetch a package!

A package reference could not be materialised locally.

## Things you can try:
- For ` + "`github:`" + ` and ` + "`git+https:`" + ` references, check network access
  and set GITHUB_TOKEN for private repositories
- For ` + "`git+ssh:`" + ` references, make sure your SSH agent holds a key
- Map the reference to a local checkout in the ` + "`registry`" + ` config key`,
	}

	installableNotFoundIssue = &Issue{
		id: InstallableNotFoundId,
		mdMsg: `
# The application could not be resolved!

An installable has the form ` + "`<ref>[#attr]`" + `. Without an attribute the
package's ` + "`defaultApp.<system>`" + ` is used; otherwise
` + "`apps.<system>.<attr>`" + ` and then ` + "`<attr>`" + ` are tried.

## Example package:
~~~cue
package demo

apps: "x86_64-linux": hello: {
	type:    "app"
	program: "/usr/bin/hello"
}
~~~`,
	}

	bundlerNotFoundIssue = &Issue{
		id: BundlerNotFoundId,
		mdMsg: `
# Bundler not found!

Bundlers are looked up only under ` + "`bundlers.<system>.<name>`" + ` of the
bundler package. ` + "`--bundler github:owner/repo`" + ` uses the entry
` + "`defaultBundler`" + `; ` + "`--bundler github:owner/repo#toArx`" + ` uses
` + "`toArx`" + `.

## Things you can try:
- Check the bundler package defines the entry for your system
- Pass an explicit entry with ` + "`#name`",
	}

	bundlerLoadFailedIssue = &Issue{
		id: BundlerLoadFailedId,
		mdMsg: `
# The bundler could not be loaded!

The bundler package failed to evaluate, or the entry is not a function.

## A bundler is a struct with an input definition and an output:
~~~cue
bundlers: "x86_64-linux": defaultBundler: {
	#in: {
		program: string
		system:  string
	}
	out: {
		type:    "derivation"
		name:    "bundle"
		system:  #in.system
		builder: "cp \(#in.program) $out"
	}
}
~~~`,
	}

	invalidBundlerResultIssue = &Issue{
		id: InvalidBundlerResultId,
		mdMsg: `
# The bundler returned an unusable result!

A bundler's ` + "`out`" + ` must be a derivation: a struct with
` + "`type: \"derivation\"`" + `, a ` + "`name`" + `, a ` + "`system`" + ` and a
` + "`builder`" + ` script. Other values cannot be built.`,
	}

	buildFailedIssue = &Issue{
		id: BuildFailedId,
		mdMsg: `
# The bundle failed to build!

The builder script exited with an error or did not create ` + "`$out`" + `.

## Things you can try:
- Read the build log named in the error message
- Re-run with ` + "`--verbose`" + ` to see each stage`,
	}

	outputLinkFailedIssue = &Issue{
		id: OutputLinkFailedId,
		mdMsg: `
# The output link could not be created!

The bundle was built, but the link pointing at it could not be written.

## Things you can try:
- Choose another location with ` + "`-o`" + `
- Remove a regular file occupying the link path; appbundle only replaces
  existing links that point into its store`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():     configLoadFailedIssue,
		storeUnavailableIssue.Id():     storeUnavailableIssue,
		packageFetchFailedIssue.Id():   packageFetchFailedIssue,
		installableNotFoundIssue.Id():  installableNotFoundIssue,
		bundlerNotFoundIssue.Id():      bundlerNotFoundIssue,
		bundlerLoadFailedIssue.Id():    bundlerLoadFailedIssue,
		invalidBundlerResultIssue.Id(): invalidBundlerResultIssue,
		buildFailedIssue.Id():          buildFailedIssue,
		outputLinkFailedIssue.Id():     outputLinkFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Get returns the issue with the given id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
