package ui

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mdp/qrterminal/v3"
)

// URIBlock renders a pairing URI as a half-block QR code followed by the
// raw text, so it can be scanned or copied.
func URIBlock(uri string) string {
	var b bytes.Buffer
	fmt.Fprintln(&b, TitleStyle.Render("Scan with your wallet or paste the URI:"))
	qrterminal.GenerateHalfBlock(uri, qrterminal.L, &b)
	fmt.Fprint(&b, AddressStyle.Render(uri))
	return strings.TrimRight(b.String(), "\n")
}
