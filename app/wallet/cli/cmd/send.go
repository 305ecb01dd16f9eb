package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	to      string
	value   float64
	message string
	stake   float64
	unbond  bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a signed transfer",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		tx := database.NewTransferTx("", to, value, message)
		submit(privateKey, tx)
	},
}

var stakeCmd = &cobra.Command{
	Use:   "stake",
	Short: "Send a signed bond or unbond of stake",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		tx := database.NewStakeTx("", stake, !unbond)
		submit(privateKey, tx)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address of the receiver.")
	sendCmd.Flags().Float64VarP(&value, "value", "v", 0, "Value to send.")
	sendCmd.Flags().StringVarP(&message, "message", "m", "", "Message for the transfer.")

	rootCmd.AddCommand(stakeCmd)
	stakeCmd.Flags().Float64VarP(&stake, "stake", "s", 0, "Stake to bond.")
	stakeCmd.Flags().BoolVar(&unbond, "unbond", false, "Release the stake instead of bonding it.")
}

// submit signs the transaction with the wallet key and posts it to the node.
func submit(privateKey *ecdsa.PrivateKey, tx database.Tx) {
	signedTx, err := tx.Sign(privateKey)
	if err != nil {
		log.Fatal(err)
	}

	data, err := json.Marshal(signedTx)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/tx/object", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}

	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("node rejected transaction: status[%d]: %s", resp.StatusCode, body)
	}

	fmt.Println(signedTx.ID)
}
