package runtime

import (
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/drblury/robotflow/internal/runtime/ops"
)

const (
	capabilitiesNamespace = "http://wave.google.com/extensions/robots/1.0"
	capabilityHashMask    = 0xfffffff
)

// foldCapability mixes one registration into the running capabilities hash.
// Registration order matters.
func foldCapability(h uint32, kind, context, filter string) uint32 {
	h = h*13 +
		stringHash(ops.ProtocolVersion) +
		stringHash(kind) +
		stringHash(context) +
		stringHash(filter)
	return h & capabilityHashMask
}

func stringHash(s string) uint32 {
	sum := blake3.Sum256([]byte(s))
	return binary.BigEndian.Uint32(sum[:4])
}

// CapabilitiesHash returns the hash of every registration as "0x<hex>". The
// server compares it with the hash it cached to decide whether to refetch
// the capabilities document.
func (r *Registry) CapabilitiesHash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("0x%x", r.hash)
}

// CapabilitiesXML renders the capabilities document served to the wave
// server. consumerKey is omitted when empty.
func (r *Registry) CapabilitiesXML(consumerKey string) string {
	hash := r.CapabilitiesHash()

	r.mu.RLock()
	lines := make([]string, 0, len(r.order))
	for _, entry := range r.order {
		var line strings.Builder
		line.WriteString(`  <w:capability name="`)
		line.WriteString(escapeXML(string(entry.Kind)))
		line.WriteString(`"`)
		if entry.Context != "" {
			line.WriteString(` context="` + escapeXML(entry.Context) + `"`)
		}
		if entry.Filter != "" {
			line.WriteString(` filter="` + escapeXML(entry.Filter) + `"`)
		}
		line.WriteString("/>\n")
		lines = append(lines, line.String())
	}
	r.mu.RUnlock()

	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>` + "\n")
	b.WriteString(`<w:robot xmlns:w="` + capabilitiesNamespace + `">` + "\n")
	b.WriteString("<w:version>" + hash + "</w:version>\n")
	if consumerKey != "" {
		b.WriteString("<w:consumer_key>" + escapeXML(consumerKey) + "</w:consumer_key>\n")
	}
	b.WriteString("<w:protocolversion>" + ops.ProtocolVersion + "</w:protocolversion>\n")
	b.WriteString("<w:capabilities>\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("</w:capabilities>\n")
	b.WriteString("</w:robot>\n")
	return b.String()
}

func escapeXML(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
