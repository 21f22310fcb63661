package parser

import (
	ast "secwaf/secrule/ast"

	"fmt"
	"regexp"
	"strings"
)

var statementNameRegex = regexp.MustCompile(`(?s)^\w+([ \t]|\\\n)+`)
var doubleQuotedStringRegex = regexp.MustCompile(`^"(\\.|\\\n|[^"\\])*"`)
var singleQuotedStringRegex = regexp.MustCompile(`^'(\\.|\\\n|[^'\\])*'`)
var nonQuotedStringRegex = regexp.MustCompile(`^[^ \t]+`)
var argSpaceRegex = regexp.MustCompile(`(?s)^([ \t]|\\\n)+`)

// RuleParser parses SecRule-lang configuration text into a side-effect free ParsedRuleSet.
type RuleParser interface {
	Parse(filename string, input string, pf PhraseLoaderCb, ilcb IncludeLoaderCb) (*ParsedRuleSet, error)
}

type parserImpl struct {
}

// NewRuleParser creates a RuleParser.
func NewRuleParser() RuleParser {
	return &parserImpl{}
}

// Parse a rule configuration input.
func (p *parserImpl) Parse(filename string, input string, pf PhraseLoaderCb, ilcb IncludeLoaderCb) (rs *ParsedRuleSet, err error) {
	rs = newParsedRuleSet()
	curRule := &ast.Rule{}
	rest := input
	lineNumber := 0
	for {
		var stmt string
		var stmtLine int
		stmt, rest = nextStatement(rest, &lineNumber, &stmtLine)
		if stmt == "" {
			// There were no more statements
			break
		}

		// Sometimes only the first line in a multiline statement is commented out, leaving dangling args.
		if stmt[0] == '"' {
			continue
		}

		statementName, stmtRest := findConsume(statementNameRegex, stmt)
		statementName = strings.Trim(statementName, " \\\t\r\n")
		statementName = strings.ToLower(statementName)

		if err = p.parseStatement(rs, &curRule, statementName, stmtRest, pf, ilcb); err != nil {
			err = fmt.Errorf("%s:%d: %v", filename, stmtLine, err)
			return
		}
	}

	if len(curRule.Items) > 0 {
		err = fmt.Errorf("%s:%d: unterminated rule chain", filename, lineNumber)
		return
	}

	return
}

func (p *parserImpl) parseStatement(rs *ParsedRuleSet, curRule **ast.Rule, statementName string, rest string, pf PhraseLoaderCb, ilcb IncludeLoaderCb) (err error) {
	if unsupportedDirectives[statementName] {
		return fmt.Errorf("the %s directive is not supported by this engine", statementName)
	}

	if len((*curRule).Items) > 0 && statementName != "secrule" {
		return fmt.Errorf("expected a chained SecRule, got: %s", statementName)
	}

	switch statementName {
	case "secrule":
		if err = parseSecRule(rest, curRule, &rs.Statements, pf); err != nil {
			return fmt.Errorf("parse error in SecRule: %v", err)
		}

	case "secaction":
		if err = parseSecActionStmt(rest, &rs.Statements); err != nil {
			return fmt.Errorf("parse error in SecAction: %v", err)
		}

	case "secrulescript":
		if err = parseSecRuleScript(rest, &rs.Statements); err != nil {
			return fmt.Errorf("parse error in SecRuleScript: %v", err)
		}

	case "secmarker":
		if err = parseSecMarker(rest, &rs.Statements); err != nil {
			return fmt.Errorf("parse error in SecMarker: %v", err)
		}

	case "secdefaultaction":
		if err = parseSecDefaultAction(rest, rs); err != nil {
			return fmt.Errorf("parse error in SecDefaultAction: %v", err)
		}

	case "include":
		if ilcb == nil {
			return fmt.Errorf("rules have an Include directive, but no include loader was given")
		}

		includeFilePath := strings.Trim(rest, " \\\t\r\n")
		var included *ParsedRuleSet
		if included, err = ilcb(includeFilePath); err != nil {
			return fmt.Errorf("error in included file %s: %v", includeFilePath, err)
		}
		if err = rs.Merge(included); err != nil {
			return fmt.Errorf("error in included file %s: %v", includeFilePath, err)
		}

	default:
		var handled bool
		if handled, err = p.parseConfigDirective(rs, statementName, rest); handled {
			return
		}
		if handled, err = p.parseExceptionDirective(rs, statementName, rest); handled {
			return
		}

		return fmt.Errorf("unknown directive: %s", statementName)
	}

	return
}

// Get the next full statement from the input. Statements can continue on multiple lines using \.
func nextStatement(input string, lineNumber *int, stmtLine *int) (stmt string, rest string) {
	var sb strings.Builder
	rest = input
	first := true
	for {
		var line string
		pos := strings.Index(rest, "\n")
		if pos == -1 {
			line = rest
			rest = ""
		} else {
			line = rest[:pos+1]
			rest = rest[pos+1:]
		}

		*lineNumber++

		lt := strings.Trim(line, " \t\r\n")

		if lt == "" && rest != "" {
			continue
		}

		if strings.HasPrefix(lt, "#") {
			continue
		}

		if first {
			*stmtLine = *lineNumber
			first = false
		}

		sb.WriteString(lt)

		if strings.HasSuffix(lt, "\\") {
			sb.WriteString("\n")
		} else {
			break
		}
	}

	stmt = sb.String()
	return
}

// Extract and unescape a single or double quoted string, or a non-quoted string without whitespaces, from the beginning of the given string, and return the rest.
func nextArg(s string) (arg string, rest string) {
	_, s = findConsume(argSpaceRegex, s)

	qs, qsRest := findConsume(doubleQuotedStringRegex, s)
	if qs != "" {
		rest = qsRest
		qs = qs[1 : len(qs)-1]
		qs = strings.Replace(qs, `\"`, `"`, -1)
		qs = strings.Replace(qs, "\\\n", ` `, -1)
		qs = strings.Replace(qs, `\\`, `\`, -1)
		arg = qs
		return
	}

	qs, qsRest = findConsume(singleQuotedStringRegex, s)
	if qs != "" {
		rest = qsRest
		qs = qs[1 : len(qs)-1]
		qs = strings.Replace(qs, `\'`, `'`, -1)
		qs = strings.Replace(qs, "\\\n", ` `, -1)
		qs = strings.Replace(qs, `\\`, `\`, -1)
		arg = qs
		return
	}

	arg, rest = findConsume(nonQuotedStringRegex, s)
	return
}

// Find the given regexp at the start of str and return it. Return the remaining string after the match too.
func findConsume(re *regexp.Regexp, s string) (match string, rest string) {
	loc := re.FindStringIndex(s)
	if loc == nil {
		rest = s
		return
	}

	match = s[loc[0]:loc[1]]
	rest = s[loc[1]:]
	return
}
