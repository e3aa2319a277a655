// Package input reads the transaction input file: a sequence of records,
// each a count of addresses, that many address lines, a transaction length,
// and that many raw bytes of transaction payload.
package input

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/clambassador/btpir/model"
	"github.com/clambassador/btpir/pirerr"
)

// Entry is one parsed record from the transaction file.
type Entry struct {
	Addresses []model.Address
	Payload   []byte
}

// Read parses the entire transaction stream, grounded on the reference
// reader's loop: for each entry, a line giving the address count, that many
// address lines, a line giving the payload length, then that many raw
// bytes, then a trailing newline. Addresses within one entry must be
// distinct; that's enforced here, matching the reference reader's assertion
// that no entry repeats an address against itself.
func Read(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)
	var entries []Entry

	for {
		countLine, err := readLine(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, pirerr.IoError("read address count", err)
		}
		countLine = strings.TrimSpace(countLine)
		if countLine == "" {
			break
		}
		count, err := strconv.Atoi(countLine)
		if err != nil {
			return nil, pirerr.InputError("read address count", "expected an integer, got %q", countLine)
		}

		seen := make(map[string]bool, count)
		addrs := make([]model.Address, 0, count)
		for i := 0; i < count; i++ {
			line, err := readLine(br)
			if err != nil {
				return nil, pirerr.IoError("read address line", err)
			}
			addr := model.Address(strings.TrimRight(line, "\r\n"))
			key := string(addr)
			if seen[key] {
				return nil, pirerr.InputError("read address line", "duplicate address within one transaction")
			}
			seen[key] = true
			addrs = append(addrs, addr)
		}

		lengthLine, err := readLine(br)
		if err != nil {
			return nil, pirerr.IoError("read transaction length", err)
		}
		length, err := strconv.Atoi(strings.TrimSpace(lengthLine))
		if err != nil {
			return nil, pirerr.InputError("read transaction length", "expected an integer, got %q", lengthLine)
		}
		if length < 0 {
			return nil, pirerr.InputError("read transaction length", "negative length %d", length)
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil, pirerr.IoError("read transaction payload", err)
		}
		// Consume the trailing newline that follows the raw payload.
		if _, err := readLine(br); err != nil && err != io.EOF {
			return nil, pirerr.IoError("read trailing newline", err)
		}

		entries = append(entries, Entry{Addresses: addrs, Payload: payload})
	}

	return entries, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if line == "" && err == io.EOF {
		return "", io.EOF
	}
	return strings.TrimSuffix(line, "\n"), nil
}
