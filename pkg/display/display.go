// Package display renders skip lists as console tables, either level by level (to inspect how keys were
// promoted) or as a flat key / value listing.
package display

import (
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/nobletooth/skipkv/pkg/utils"
	"github.com/olekukonko/tablewriter"
)

// maxChainEntries caps how many pairs of a level are spelled out in its row.
const maxChainEntries = 16

// LeveledList is a skip list seen level by level.
type LeveledList[K any, V any] interface {
	Level() int
	LevelIterate(level int) iter.Seq[utils.Pair[K, V]]
}

// RenderLevels writes one row per level in use, bottom level first, with the `key:value` chain of that level.
func RenderLevels[K any, V any](w io.Writer, list LeveledList[K, V]) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Level", "Entries", "Chain"})
	table.SetAutoWrapText(false)
	for level := 0; level < list.Level(); level++ {
		entries := 0
		chain := make([]string, 0, maxChainEntries)
		for pair := range list.LevelIterate(level) {
			entries++
			if entries <= maxChainEntries {
				chain = append(chain, pair.String())
			}
		}
		if entries > maxChainEntries {
			chain = append(chain, fmt.Sprintf("... (+%d)", entries-maxChainEntries))
		}
		table.Append([]string{strconv.Itoa(level), strconv.Itoa(entries), strings.Join(chain, "; ")})
	}
	table.Render()
}

// RenderEntries writes a key / value table of `pairs` and returns how many rows were written.
func RenderEntries[K any, V any](w io.Writer, pairs iter.Seq[utils.Pair[K, V]]) int {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Key", "Value"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	rows := 0
	for pair := range pairs {
		table.Append([]string{fmt.Sprint(pair.Key), fmt.Sprint(pair.Value)})
		rows++
	}
	table.Render()
	return rows
}
