// Generates a fresh ECDSA key for relay authentication. The key never
// holds funds; it only identifies the bundle sender to the relay.
package main

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal("failed to generate key:", err)
	}

	fmt.Printf("export FLASHARB_FLASHBOTS_KEY=0x%x\n", crypto.FromECDSA(key))
	fmt.Printf("# signer address: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
}
