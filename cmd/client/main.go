// Command client is a minimal test harness for exercising a running
// exchange over its TCP order gateway: it sends one NEW or CANCEL request
// and prints whatever response comes back. Not part of the venue's data
// path — a throwaway tool in the spirit of vega's cmd/vegatools.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ejyy/femto/wire"
)

func main() {
	var addr string
	var clientID uint32
	var tickerID uint32
	var clientOrderID uint64
	var side string
	var price int64
	var qty uint32

	root := &cobra.Command{
		Use:   "client",
		Short: "Send a single order request to a running exchange and print its response",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:9090", "exchange order gateway address")
	root.PersistentFlags().Uint32Var(&clientID, "client-id", 1, "client id")
	root.PersistentFlags().Uint32Var(&tickerID, "ticker-id", 1, "ticker id")
	root.PersistentFlags().Uint64Var(&clientOrderID, "client-order-id", 1, "client order id")

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Send a NEW order request",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := wire.SideBuy
			if side == "sell" {
				s = wire.SideSell
			}
			return sendAndPrint(addr, wire.ClientRequest{
				SeqNum:        1,
				Type:          wire.RequestNew,
				ClientID:      wire.ClientID(clientID),
				TickerID:      wire.TickerID(tickerID),
				ClientOrderID: clientOrderID,
				Side:          s,
				Price:         wire.Price(price),
				Qty:           wire.Qty(qty),
			})
		},
	}
	newCmd.Flags().StringVar(&side, "side", "buy", "buy or sell")
	newCmd.Flags().Int64Var(&price, "price", 100, "limit price")
	newCmd.Flags().Uint32Var(&qty, "qty", 1, "quantity")

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Send a CANCEL request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(addr, wire.ClientRequest{
				SeqNum:        1,
				Type:          wire.RequestCancel,
				ClientID:      wire.ClientID(clientID),
				TickerID:      wire.TickerID(tickerID),
				ClientOrderID: clientOrderID,
			})
		},
	}

	root.AddCommand(newCmd, cancelCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func sendAndPrint(addr string, req wire.ClientRequest) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	var reqBuf [wire.ClientRequestFrameSize]byte
	req.Encode(reqBuf[:])
	if _, err := conn.Write(reqBuf[:]); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var respBuf [wire.ClientResponseFrameSize]byte
	if _, err := readFull(conn, respBuf[:]); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	resp, seq := wire.DecodeClientResponse(respBuf[:])
	fmt.Printf("response seq=%d type=%d client_order_id=%d market_order_id=%d exec_qty=%d leaves_qty=%d\n",
		seq, resp.Type, resp.ClientOrderID, resp.MarketOrderID, resp.ExecQty, resp.LeavesQty)
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
