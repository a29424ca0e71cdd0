// The MIT License (MIT)
//
// # Copyright (c) 2024 The go-ipc Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command ipcd runs a standalone IPC node: every message it receives on an
// established session is logged; no reply is sent. It exists
// to exercise the engine end-to-end (grounded on original_source's
// ipcecho.cpp demo) and as a worked example for embedding the library.
package main

import (
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	ipc "github.com/solidframe/go-ipc"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

// lineCodec is the demo codec: every application message is a []byte,
// serialized and deserialized as-is. Real users of the library supply
// their own Codec to get typed messages (spec §1 Non-goal: the engine
// never interprets payload bytes itself).
type lineCodec struct{}

func (lineCodec) TypeID(msg any) ipc.SerializationTypeID {
	return 1
}

type byteSerializer struct {
	data []byte
	off  int
}

func (s *byteSerializer) Run(dst []byte) (int, bool, error) {
	n := copy(dst, s.data[s.off:])
	s.off += n
	return n, s.off == len(s.data), nil
}

type byteDeserializer struct {
	buf []byte
}

func (d *byteDeserializer) Run(src []byte) (int, bool, error) {
	d.buf = append(d.buf, src...)
	return len(src), true, nil
}

func (d *byteDeserializer) Message() (any, error) {
	return d.buf, nil
}

func (lineCodec) NewSerializer(typeID ipc.SerializationTypeID, msg any) (ipc.Serializer, error) {
	b, _ := msg.([]byte)
	return &byteSerializer{data: b}, nil
}

func (lineCodec) NewDeserializer(typeID ipc.SerializationTypeID) (ipc.Deserializer, error) {
	return &byteDeserializer{}, nil
}

// echoHandler logs every received message and every completion that
// carries an error; it sends no reply.
type echoHandler struct {
	svc *ipc.Service
}

func (h *echoHandler) OnReceive(conn ipc.ConnectionUid, msg any, requestUID ipc.MessageUid) {
	b, _ := msg.([]byte)
	log.Printf("recv %d bytes from talker=%d session=%d", len(b), conn.TalkerIdx, conn.SessionIdx)
}

func (h *echoHandler) OnComplete(conn ipc.ConnectionUid, uid ipc.MessageUid, err error) {
	if err != nil {
		log.Printf("message %v on conn %v completed with error: %v", uid, conn, err)
	}
}

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "ipcd"
	app.Usage = "standalone solidframe-style IPC node that logs received messages"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "listen, l", Value: ":10091", Usage: "base address to bind"},
		cli.StringFlag{Name: "metrics", Value: ":9091", Usage: "address to expose Prometheus metrics on"},
		cli.StringSliceFlag{Name: "gateway, g", Usage: "relay gateway address (repeatable)"},
		cli.UintFlag{Name: "network-id", Value: 0, Usage: "local network id for relay routing"},
		cli.IntFlag{Name: "compress-threshold", Value: 256, Usage: "minimum payload size worth compressing"},
	}

	app.Action = func(c *cli.Context) error {
		cfg := ipc.DefaultConfiguration()
		cfg.BaseAddress = c.String("listen")
		cfg.GatewayAddressVector = c.StringSlice("gateway")
		cfg.LocalNetworkID = uint32(c.Uint("network-id"))
		cfg.CompressThreshold = c.Int("compress-threshold")

		handler := &echoHandler{}
		svc, err := ipc.NewService(cfg, lineCodec{}, handler)
		if err != nil {
			log.Fatal(err)
		}
		handler.svc = svc
		defer svc.Close()

		collector := ipc.NewServiceCollector(svc)
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(c.String("metrics"), mux); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()

		log.Printf("ipcd listening on %s", cfg.BaseAddress)
		select {}
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
