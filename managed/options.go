package managed

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/chazu/jitbridge/bridge"
	"github.com/chazu/jitbridge/heap"
	"github.com/chazu/jitbridge/trace"
)

// OptionType is the value type of an option.
type OptionType uint8

const (
	TypeBool OptionType = iota
	TypeInt
	TypeDouble
	TypeString
)

func (k OptionType) String() string {
	switch k {
	case TypeBool:
		return "Boolean"
	case TypeInt:
		return "Integer"
	case TypeDouble:
		return "Double"
	}
	return "String"
}

// OptionDescriptor describes one jvmci.option.* option.
type OptionDescriptor struct {
	Name    string
	Type    OptionType
	Default any
	Help    string
}

// Parse converts a textual option value to the descriptor's type.
func (d OptionDescriptor) Parse(text string) (any, error) {
	switch d.Type {
	case TypeBool:
		return strconv.ParseBool(text)
	case TypeInt:
		return strconv.ParseInt(text, 10, 64)
	case TypeDouble:
		return strconv.ParseFloat(text, 64)
	}
	return text, nil
}

// Descriptors is the OptionDescriptors service: a group of descriptors
// contributed by one provider class.
type Descriptors []OptionDescriptor

const builtinOptionsClass = "jdk.vm.ci.hotspot.HotSpotJVMCIRuntime$Options"

var builtinOptions = []OptionDescriptor{
	{Name: "PrintFlags", Type: TypeBool, Default: false, Help: "Prints all JVMCI flags and exits."},
	{Name: "ShowFlags", Type: TypeBool, Default: false, Help: "Prints all JVMCI flags and continues."},
	{Name: "Threshold", Type: TypeInt, Default: int64(1000), Help: "Invocation count at which a method is compiled."},
	{Name: "InitTimer", Type: TypeBool, Default: false, Help: "Specifies if initialization timing is enabled."},
	{Name: "TraceMethodDataFilter", Type: TypeString, Default: "", Help: "Enables tracing of profiling info when read by JVMCI."},
}

// collectDescriptors gathers every registered descriptor by name. The first
// provider in class order wins a duplicate name.
func collectDescriptors(c *bridge.Context) map[string]OptionDescriptor {
	impls, err := c.Services.GetServiceImpls(OptionDescriptorsService)
	if err != nil {
		trace.Logger().Warningf("option descriptors: %v", err)
	}
	all := make(map[string]OptionDescriptor)
	for _, impl := range impls {
		group, ok := impl.(Descriptors)
		if !ok {
			continue
		}
		for _, d := range group {
			if _, dup := all[d.Name]; dup {
				trace.Logger().Warningf("duplicate option descriptor %s", d.Name)
				continue
			}
			all[d.Name] = d
		}
	}
	return all
}

func (in *installer) registerOptionStatics(c *bridge.Context) {
	c.Statics.Register(bridge.OptionsParserClass, "printFlags", bridge.PrintFlagsSignature,
		func(c *bridge.Context, t *bridge.Thread, args []any) bridge.Result[any] {
			return bridge.Then(c.GetRuntime(t), func(obj *heap.Object) bridge.Result[any] {
				rt := RuntimeOf(obj)
				if rt == nil {
					c.ThrowError(t, "runtime instance has no payload")
					return bridge.Pending[any]()
				}
				PrintFlags(in.out, rt)
				return bridge.Ok[any](nil)
			})
		})
}

// PrintFlags writes the option help: every known option sorted by name,
// its effective value (":=" when configured) and its description.
func PrintFlags(w io.Writer, rt *Runtime) {
	names := make([]string, 0, len(rt.descriptors))
	for name := range rt.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "[List of JVMCI options]")
	for _, name := range names {
		d := rt.descriptors[name]
		assign := "="
		value := d.Default
		if v, ok := rt.values[name]; ok {
			assign = ":="
			value = v
		}
		fmt.Fprintf(w, "    %-30s %-2s %-20v %-8s %s\n", name, assign, value, d.Type, d.Help)
	}
}
