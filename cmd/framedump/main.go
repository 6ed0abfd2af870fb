// framedump decodes TDOA3 ranging frames from a pcap capture of the UDP
// sniffer feed and prints one line per packet, with remote records and any
// trailing LPP data. Useful for inspecting anchor traffic offline.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/uwbtools/tdoatag/internal/mac"
	"github.com/uwbtools/tdoatag/internal/tdoa3"
)

func main() {
	all := flag.Bool("all", false, "also print frames that fail to decode")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-all] capture.pcap\n", os.Args[0])
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		log.Fatalf("reading pcap: %v", err)
	}

	var n, decoded int
	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("packet %d: %v", n, err)
		}
		n++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}

		if dumpFrame(ci.Timestamp.Format("15:04:05.000000"), udpLayer.(*layers.UDP).Payload, *all) {
			decoded++
		}
	}

	fmt.Printf("%d packets, %d TDOA3 frames\n", n, decoded)
}

func dumpFrame(ts string, raw []byte, all bool) bool {
	frame, err := mac.Decode(raw)
	if err != nil {
		if all {
			fmt.Printf("%s  undecodable: %v\n", ts, err)
		}
		return false
	}

	payload := frame.Payload
	if len(payload) == 0 || payload[0] != tdoa3.PacketTypeTDOA3 {
		if all {
			fmt.Printf("%s  anchor %3d  non-TDOA3 payload (%d bytes)\n", ts, frame.SourceID(), len(payload))
		}
		return false
	}

	hdr, records, consumed, err := tdoa3.ParseRanging(payload)
	if err != nil {
		fmt.Printf("%s  anchor %3d  malformed: %v\n", ts, frame.SourceID(), err)
		return false
	}

	fmt.Printf("%s  anchor %3d  seq %3d  tx %10d  remotes %d\n",
		ts, frame.SourceID(), hdr.Seq, hdr.TxTimestamp, hdr.RemoteCount)
	for _, rec := range records {
		if rec.HasDistance {
			fmt.Printf("    remote %3d  seq %3d  rx %10d  dist %6.2fm\n",
				rec.ID, rec.Seq, rec.RxTimestamp, tdoa3.TicksToMeters(int64(rec.Distance)))
		} else {
			fmt.Printf("    remote %3d  seq %3d  rx %10d\n", rec.ID, rec.Seq, rec.RxTimestamp)
		}
	}

	dumpLPP(payload[consumed:])
	return true
}

func dumpLPP(trailer []byte) {
	if len(trailer) == 0 || trailer[0] != tdoa3.LPPHeaderShortPacket {
		return
	}
	data := trailer[1:]
	if len(data) >= 21 && data[0] == tdoa3.LPPShortAnchorPos {
		pos := data[1:]
		fmt.Printf("    position x %.2f y %.2f z %.2f  snr %.1f  powerDiff %.1f\n",
			lppFloat(pos[0:4]), lppFloat(pos[4:8]), lppFloat(pos[8:12]),
			lppFloat(pos[12:16]), lppFloat(pos[16:20]))
		return
	}
	fmt.Printf("    lpp % x\n", data)
}

func lppFloat(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}
