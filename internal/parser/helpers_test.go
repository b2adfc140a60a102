package parser

import "github.com/dgallion1/mapread/internal/grammar"

func violation(msg string) grammar.Violation {
	return grammar.Violation{SystemID: "test.xml", Line: 1, Column: 1, Message: msg}
}
