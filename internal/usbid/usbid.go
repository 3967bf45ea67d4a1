// Package usbid reads the usb.ids vendor and product name database so that
// tools can label devices the way lsusb does.
package usbid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// DefaultPaths lists the usual locations of usb.ids on Linux systems.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// ErrNotFound indicates none of the searched paths held a database.
var ErrNotFound = errors.New("usb.ids not found")

// Names maps vendor and product IDs to names. A nil *Names is valid and
// knows no names.
type Names struct {
	vendors  map[uint16]string
	products map[uint32]string
}

func key(vid, pid uint16) uint32 {
	return uint32(vid)<<16 | uint32(pid)
}

// Open parses the first database found in paths, or in DefaultPaths when
// none are given. It returns the path used.
func Open(paths ...string) (*Names, string, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		n, err := Parse(f)
		f.Close()
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", p, err)
		}
		return n, p, nil
	}
	return nil, "", ErrNotFound
}

// Parse reads the usb.ids format: vendor lines "vvvv  Name" followed by
// tab-indented product lines "\tpppp  Name". Class, language and other
// sections end the vendor list and are ignored.
func Parse(r io.Reader) (*Names, error) {
	n := &Names{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}

	var (
		vid    uint16
		inVend bool
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		if line[0] == '\t' {
			if !inVend || strings.HasPrefix(line, "\t\t") {
				continue
			}
			if id, name, ok := entry(line[1:]); ok {
				n.products[key(vid, id)] = name
			}
			continue
		}

		id, name, ok := entry(line)
		inVend = ok
		if ok {
			vid = id
			n.vendors[vid] = name
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return n, nil
}

// entry splits "xxxx  Name".
func entry(s string) (uint16, string, bool) {
	if len(s) < 6 || s[4] != ' ' {
		return 0, "", false
	}
	v, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimSpace(s[5:])
	return uint16(v), name, name != ""
}

// Vendor returns the vendor name, or "".
func (n *Names) Vendor(vid uint16) string {
	if n == nil {
		return ""
	}
	return n.vendors[vid]
}

// Product returns the product name, or "".
func (n *Names) Product(vid, pid uint16) string {
	if n == nil {
		return ""
	}
	return n.products[key(vid, pid)]
}

// Describe returns "Vendor Product", whichever halves are known.
func (n *Names) Describe(vid, pid uint16) string {
	return strings.TrimSpace(n.Vendor(vid) + " " + n.Product(vid, pid))
}

// Len returns the number of vendors and products known.
func (n *Names) Len() (vendors, products int) {
	if n == nil {
		return 0, 0
	}
	return len(n.vendors), len(n.products)
}
