// Package mapping implements the mapping engine (ME, spec §4.6): parses
// the client and server side name mappings (whose text is already in the
// deobfuscated -> obfuscated canonical direction), verifies the client is a
// strict superset of the server, and writes the merged result in a
// TSRG2-style form.
package mapping

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/dvh-project/historian/dvherr"
)

// Field is one field mapping within a class.
type Field struct {
	DeobfType string
	DeobfName string
	ObfName   string
}

func (f Field) key() string { return f.DeobfType + " " + f.DeobfName }

// Method is one method mapping within a class, keyed by its deobfuscated
// descriptor (return type, name, and parameter list as they appear in the
// side mapping text).
type Method struct {
	DeobfReturnType string
	DeobfSignature  string // "name(arg1,arg2,...)"
	ObfName         string
}

func (m Method) key() string { return m.DeobfReturnType + " " + m.DeobfSignature }

// Class is one class's full mapping: its own name pair plus member maps
// keyed by their deobfuscated descriptor.
type Class struct {
	DeobfName string
	ObfName   string
	Fields    map[string]Field
	Methods   map[string]Method
}

// Mapping is a parsed side-mapping file, canonically keyed by
// deobfuscated class name (spec §4.6: "canonical direction is deobf ->
// obf").
type Mapping struct {
	ByDeobfClass map[string]*Class
}

func newMapping() *Mapping {
	return &Mapping{ByDeobfClass: make(map[string]*Class)}
}

// Parse reads a side mapping in the upstream proguard-style text format:
//
//	deobfClass -> obfClass:
//	    deobfFieldType deobfFieldName -> obfFieldName
//	    deobfReturnType deobfMethodName(args) -> obfMethodName
//
// This is already deobf -> obf per line, so Parse's result is the
// canonical direction directly; there is no separate reversal step once
// parsed, matching spec §4.6's stated canonical direction.
func Parse(r io.Reader) (*Mapping, error) {
	m := newMapping()
	sc := bufio.NewScanner(r)
	var current *Class

	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		indented := line != trimmed

		if !indented {
			name, obf, ok := splitArrow(trimmed)
			if !ok {
				return nil, errors.Errorf("mapping: malformed class line %q", line)
			}
			name = strings.TrimSuffix(name, ":")
			obf = strings.TrimSuffix(obf, ":")
			current = &Class{
				DeobfName: name,
				ObfName:   obf,
				Fields:    make(map[string]Field),
				Methods:   make(map[string]Method),
			}
			m.ByDeobfClass[name] = current
			continue
		}

		if current == nil {
			return nil, errors.Errorf("mapping: member line %q before any class line", line)
		}
		lhs, obfName, ok := splitArrow(trimmed)
		if !ok {
			return nil, errors.Errorf("mapping: malformed member line %q", line)
		}
		if idx := strings.IndexByte(lhs, '('); idx >= 0 {
			// method: "returnType name(args)"
			sp := strings.LastIndexByte(lhs[:idx], ' ')
			if sp < 0 {
				return nil, errors.Errorf("mapping: malformed method line %q", line)
			}
			meth := Method{
				DeobfReturnType: lhs[:sp],
				DeobfSignature:  lhs[sp+1:],
				ObfName:         obfName,
			}
			current.Methods[meth.key()] = meth
		} else {
			sp := strings.LastIndexByte(lhs, ' ')
			if sp < 0 {
				return nil, errors.Errorf("mapping: malformed field line %q", line)
			}
			fld := Field{
				DeobfType: lhs[:sp],
				DeobfName: lhs[sp+1:],
				ObfName:   obfName,
			}
			current.Fields[fld.key()] = fld
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func splitArrow(s string) (lhs, rhs string, ok bool) {
	idx := strings.Index(s, "->")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+2:]), true
}

// ParseFile opens path and Parses it; a missing file is reported as a
// plain os.IsNotExist error so callers can distinguish MappingMissing from
// a genuine parse failure.
func ParseFile(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// VerifySuperset checks that client is a strict superset of server: every
// class in server must have a corresponding class in client with the same
// deobf/obf name pair, and the server class's field set and method set
// (compared by deobf descriptor -> obf name) must each be subsets of
// client's.
func VerifySuperset(client, server *Mapping) error {
	for name, srvClass := range server.ByDeobfClass {
		cliClass, ok := client.ByDeobfClass[name]
		if !ok {
			return dvherr.New(dvherr.MappingMismatch, "server class "+name+" absent from client mappings")
		}
		if cliClass.ObfName != srvClass.ObfName {
			return dvherr.New(dvherr.MappingMismatch, "server class "+name+" obfuscated name disagrees with client")
		}
		for key, srvField := range srvClass.Fields {
			cliField, ok := cliClass.Fields[key]
			if !ok || cliField.ObfName != srvField.ObfName {
				return dvherr.New(dvherr.MappingMismatch, "server field "+name+"."+key+" missing or disagrees in client")
			}
		}
		for key, srvMethod := range srvClass.Methods {
			cliMethod, ok := cliClass.Methods[key]
			if !ok || cliMethod.ObfName != srvMethod.ObfName {
				return dvherr.New(dvherr.MappingMismatch, "server method "+name+"."+key+" missing or disagrees in client")
			}
		}
	}
	return nil
}

// Write serializes m in a TSRG2-style form: a "tsrg2" header line,
// unindented "<obf> <deobf>" class lines, and tab-indented
// "<obfField> <deobfField>" and "<obfMethod> <deobfName(args)>" member
// lines. Method lines carry the argument list as written in the side
// mapping; no JVM descriptor is written.
func Write(w io.Writer, m *Mapping) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("tsrg2\n"); err != nil {
		return err
	}
	for _, class := range m.ByDeobfClass {
		if _, err := bw.WriteString(class.ObfName + " " + class.DeobfName + "\n"); err != nil {
			return err
		}
		for _, f := range class.Fields {
			if _, err := bw.WriteString("\t" + f.ObfName + " " + f.DeobfName + "\n"); err != nil {
				return err
			}
		}
		for _, mth := range class.Methods {
			if _, err := bw.WriteString("\t" + mth.ObfName + " " + mth.DeobfSignature + "\n"); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
