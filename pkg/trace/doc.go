// Package trace records host-controller register traffic.
//
// Wrapping a controller's register window in a [Bus] captures every read
// and write (offset, width, value, time) as an [Event]. Events go to a
// [Recorder]: discard them, keep them in memory for tests, or stream them
// to a CBOR file for later analysis.
//
// # Basic Usage
//
//	rec, err := trace.NewFileRecorder("sdhci0.mtrace")
//	if err != nil {
//	    return err
//	}
//	defer rec.Close()
//
//	platform.Registers = trace.NewBus(platform.Registers, rec, "sdhci0")
//
// # Reading a Trace
//
//	r, _ := trace.NewFilteredReader("sdhci0.mtrace", trace.Filter{
//	    Offset: trace.Offset(0x2C),
//	})
//	defer r.Close()
//	for {
//	    ev, err := r.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Println(ev)
//	}
//
// # File Format
//
// Trace files are a sequence of CBOR maps with small integer keys, encoded
// canonically so identical traces compare byte for byte.
package trace
