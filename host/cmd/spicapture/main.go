// spicapture decodes Saleae digital captures of the SPI bus into one line per
// chip-select session, for checking the firmware's session bracketing on
// real hardware.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "spicapture - Decode Saleae binary digital files of an SPI bus.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	cs := flag.String("f-cs", "digital_0.bin", "Input filename: chip select.")
	clk := flag.String("f-clk", "digital_1.bin", "Input filename: SCK.")
	mosi := flag.String("f-mosi", "digital_2.bin", "Input filename: MOSI.")
	miso := flag.String("f-miso", "", "Input filename: MISO. Defaults to the MOSI file.")
	output := flag.String("o", "", "Output filename. Defaults to stdout.")
	flag.Parse()
	if *miso == "" {
		*miso = *mosi
	}

	txs, err := scan(*clk, *cs, *mosi, *miso)
	if err != nil {
		log.Fatal(err)
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		fp, err := os.Create(*output)
		if err != nil {
			log.Fatal(err)
		}
		defer fp.Close()
		w = fp
	}
	if err := report(w, txs); err != nil {
		log.Fatal(err)
	}
}

func scan(fclk, fcs, fmosi, fmiso string) ([]analyzers.TxSPI, error) {
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	cs, err := opendigital(fcs)
	if err != nil {
		return nil, err
	}
	mosi, err := opendigital(fmosi)
	if err != nil {
		return nil, err
	}
	miso, err := opendigital(fmiso)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, err := spi.Scan(clk, cs, mosi, miso)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", fclk, err)
	}
	return txs, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

// report prints each session with its start time and both data lines
func report(w io.Writer, txs []analyzers.TxSPI) error {
	total := 0
	for i, tx := range txs {
		_, err := fmt.Fprintf(w, "tx %4d t=%.6f len=%3d mosi=%x miso=%x\n", i, tx.StartTime(), len(tx.SDO), tx.SDO, tx.SDI)
		if err != nil {
			return err
		}
		total += len(tx.SDO)
	}
	_, err := fmt.Fprintf(w, "%d sessions, %d bytes\n", len(txs), total)
	return err
}
