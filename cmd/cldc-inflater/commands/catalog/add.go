/*
   Copyright The Soci Snapshotter Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/awslabs/cldc-inflater/catalog"
	"github.com/awslabs/cldc-inflater/cmd/cldc-inflater/commands/global"
	"github.com/awslabs/cldc-inflater/compression"
	httputil "github.com/awslabs/cldc-inflater/util/http"
	"github.com/containerd/log"
	"github.com/klauspost/compress/flate"
	"github.com/opencontainers/go-digest"
	"github.com/urfave/cli"
)

const (
	nameKey     = "name"
	methodKey   = "method"
	levelKey    = "level"
	residentKey = "resident"
	archiveKey  = "archive"
	urlKey      = "archive-url"
)

var addCommand = cli.Command{
	Name:      "add",
	Usage:     "compress a file and add it to the catalog",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  nameKey,
			Usage: "resource name, defaults to the file's base name",
		},
		cli.StringFlag{
			Name:  methodKey,
			Usage: "compression method (deflate or stored)",
			Value: compression.Deflate,
		},
		cli.IntFlag{
			Name:  levelKey,
			Usage: "DEFLATE compression level, -2 (huffman only) to 9",
			Value: flate.DefaultCompression,
		},
		cli.BoolFlag{
			Name:  residentKey,
			Usage: "keep the compressed bytes in the catalog instead of an archive",
		},
		cli.StringFlag{
			Name:  archiveKey,
			Usage: "archive file the compressed bytes are appended to",
		},
		cli.StringFlag{
			Name:  urlKey,
			Usage: "http(s) URL the archive will be served from, recorded as the resource location",
		},
	},
	Action: func(cliContext *cli.Context) error {
		path := cliContext.Args().First()
		if path == "" {
			return errors.New("please provide a file to add")
		}
		resident := cliContext.Bool(residentKey)
		archive := cliContext.String(archiveKey)
		if !resident && archive == "" {
			return errors.New("please provide an archive, or add the resource as resident")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		method := cliContext.String(methodKey)
		packed, err := pack(data, method, cliContext.Int(levelKey))
		if err != nil {
			return err
		}
		name := cliContext.String(nameKey)
		if name == "" {
			name = filepath.Base(path)
		}
		e := &catalog.Entry{
			Name:             name,
			Method:           method,
			CompressedSize:   int64(len(packed)),
			UncompressedSize: int64(len(data)),
			CRC32:            crc32.ChecksumIEEE(data),
			Resident:         resident,
			Digest:           digest.FromBytes(packed),
		}
		if resident {
			e.Data = packed
		} else {
			if e.Location, err = filepath.Abs(archive); err != nil {
				return err
			}
			if e.Offset, err = appendToArchive(e.Location, packed); err != nil {
				return err
			}
			if u := cliContext.String(urlKey); u != "" {
				if !httputil.IsRemote(u) {
					return fmt.Errorf("archive url %q is not http(s)", u)
				}
				e.Location = u
			}
		}

		_, db, err := global.OpenCatalog(cliContext)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx, cancel := global.Context(cliContext)
		defer cancel()
		if err := db.Put(ctx, e); err != nil {
			return err
		}
		log.G(ctx).WithField("resource", name).Info("added resource")
		fmt.Printf("%s\t%d -> %d bytes\n", name, len(data), len(packed))
		return nil
	},
}

func pack(data []byte, method string, level int) ([]byte, error) {
	switch method {
	case compression.Stored:
		return data, nil
	case compression.Deflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compression method %q", method)
}

// appendToArchive appends packed to the archive and returns the offset it
// was written at.
func appendToArchive(path string, packed []byte) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	off, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(packed); err != nil {
		return 0, err
	}
	return off, f.Sync()
}
