// internal/script/table.go
package script

import "github.com/solatis/sievefold/internal/types"

/*
 * Semantic-to-syntax mapping.
 *
 * The generator's only domain knowledge. Every {condition type, operator}
 * pair and every action type maps to its Sieve rendering here; adding a new
 * condition or action type means adding a table row, never a branch at a call
 * site.
 *
 * Condition tests are assembled from two tables: testTable supplies the test
 * command and the header it inspects, operatorTable the match type and how
 * the value is wrapped. presenceTable covers operators that take no value.
 */

// Sieve capabilities declared in the require statement.
const (
	CapFileinto   = "fileinto"
	CapIMAP4Flags = "imap4flags"
)

// testSyntax is how one condition type addresses the message.
type testSyntax struct {
	Command string // "address" or "header"
	Header  string // header argument; empty when the value carries it
}

// matchSyntax is how one operator compares.
type matchSyntax struct {
	Tag    string // match type, e.g. ":contains"
	Prefix string // wildcard prepended to the value
	Suffix string // wildcard appended to the value
	Escape bool   // escape wildcard characters inside the value
}

// conditionSyntax is one resolved {type, operator} row.
type conditionSyntax struct {
	Command  string
	Header   string
	Match    matchSyntax
	Presence string // complete test for value-less operators
}

type conditionKey struct {
	Type     types.ConditionType
	Operator types.Operator
}

var testTable = map[types.ConditionType]testSyntax{
	types.ConditionSender:      {Command: "address", Header: "from"},
	types.ConditionRecipient:   {Command: "address", Header: "to"},
	types.ConditionSubject:     {Command: "header", Header: "subject"},
	types.ConditionAttachments: {Command: "header", Header: "Content-Disposition"},
	types.ConditionHeader:      {Command: "header"},
}

var operatorTable = map[types.Operator]matchSyntax{
	types.OpContains:   {Tag: ":contains"},
	types.OpIs:         {Tag: ":is"},
	types.OpMatches:    {Tag: ":matches"},
	types.OpStartsWith: {Tag: ":matches", Suffix: "*", Escape: true},
	types.OpEndsWith:   {Tag: ":matches", Prefix: "*", Escape: true},
}

var presenceTable = map[conditionKey]string{
	{types.ConditionAttachments, types.OpHas}: `header :contains "Content-Type" "multipart/mixed"`,
}

// conditionTable is the full {type, operator} mapping.
var conditionTable = buildConditionTable()

func buildConditionTable() map[conditionKey]conditionSyntax {
	table := make(map[conditionKey]conditionSyntax)
	for ct, test := range testTable {
		for op, match := range operatorTable {
			if !types.OperatorAllowed(ct, op) {
				continue
			}
			table[conditionKey{ct, op}] = conditionSyntax{Command: test.Command, Header: test.Header, Match: match}
		}
	}
	for key, test := range presenceTable {
		table[key] = conditionSyntax{Presence: test}
	}
	return table
}

// actionSyntax is how one action type renders.
type actionSyntax struct {
	Command    string // "fileinto" or "addflag"
	Target     bool   // argument is the action's folder or label
	Literal    string // fixed argument when Target is false
	Capability string
}

var actionTable = map[types.ActionType]actionSyntax{
	types.ActionMoveTo:   {Command: "fileinto", Target: true, Capability: CapFileinto},
	types.ActionLabel:    {Command: "fileinto", Target: true, Capability: CapFileinto},
	types.ActionArchive:  {Command: "fileinto", Literal: "archive", Capability: CapFileinto},
	types.ActionDelete:   {Command: "fileinto", Literal: "trash", Capability: CapFileinto},
	types.ActionMarkRead: {Command: "addflag", Literal: `\Seen`, Capability: CapIMAP4Flags},
	types.ActionStar:     {Command: "addflag", Literal: `\Flagged`, Capability: CapIMAP4Flags},
}
