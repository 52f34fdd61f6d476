package manual

import (
	"regexp"
	"strconv"
	"strings"
)

var gradeRe = regexp.MustCompile(`^5\.(\d+)([+-]?)([a-d]?)`)

// Grade is a comparable Yosemite Decimal System grade.
type Grade struct {
	Number   int
	Modifier int // 0 for "-", 1 for none, 2 for "+"
	Letter   int // 1..4 for a..d, 0 when absent
}

// unparsed sorts after every real grade.
var unparsed = Grade{Number: 999, Modifier: 999, Letter: 999}

// ParseGrade parses grades like "5.9", "5.10a", "5.11+". Anything else
// returns a maximal sentinel so it sorts last.
func ParseGrade(s string) Grade {
	m := gradeRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return unparsed
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return unparsed
	}
	g := Grade{Number: n, Modifier: 1}
	switch m[2] {
	case "-":
		g.Modifier = 0
	case "+":
		g.Modifier = 2
	}
	if m[3] != "" {
		g.Letter = int(m[3][0]-'a') + 1
	}
	return g
}

// Valid reports whether the grade was parsed rather than defaulted.
func (g Grade) Valid() bool {
	return g != unparsed
}

// Compare orders grades lexicographically by (Number, Modifier, Letter).
func (g Grade) Compare(o Grade) int {
	switch {
	case g.Number != o.Number:
		return cmpInt(g.Number, o.Number)
	case g.Modifier != o.Modifier:
		return cmpInt(g.Modifier, o.Modifier)
	default:
		return cmpInt(g.Letter, o.Letter)
	}
}

// Less reports whether g sorts before o.
func (g Grade) Less(o Grade) bool {
	return g.Compare(o) < 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Consensus tallies suggested-grade votes relative to the official grade.
type Consensus struct {
	Higher int
	Same   int
	Lower  int
}

// TallyConsensus sums votes for suggested grades above, equal to, and
// below the official grade.
func TallyConsensus(official string, suggested map[string]int) Consensus {
	base := ParseGrade(official)
	var c Consensus
	for grade, votes := range suggested {
		switch ParseGrade(grade).Compare(base) {
		case 1:
			c.Higher += votes
		case -1:
			c.Lower += votes
		default:
			c.Same += votes
		}
	}
	return c
}

// Sandbagged reports a grade the crowd thinks is harder than stated.
func (c Consensus) Sandbagged() bool {
	return c.Higher > c.Same && c.Higher > c.Lower
}

// Soft reports a grade the crowd thinks is easier than stated.
func (c Consensus) Soft() bool {
	return c.Lower > c.Same && c.Lower > c.Higher
}
