package utils

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/wealdtech/go-merkletree"

	"greeting-cards/model"
)

// CardLeaf is the merkle leaf of a card: id (8 bytes, big endian), owner
// (20 bytes) and keccak256 of the metadata reference (32 bytes).
func CardLeaf(card *model.Card) []byte {
	leaf := make([]byte, 8, 8+20+32)
	binary.BigEndian.PutUint64(leaf, card.ID)
	leaf = append(leaf, card.Owner.Bytes()...)
	leaf = append(leaf, crypto.Keccak256([]byte(card.MetadataRef))...)
	return leaf
}

func cardTree(cards []*model.Card) (*merkletree.MerkleTree, error) {
	data := make([][]byte, len(cards))
	for i, card := range cards {
		data[i] = CardLeaf(card)
	}
	return merkletree.New(data)
}

// MerkleRoot commits to the full set of minted cards. An empty set has a nil
// root.
func MerkleRoot(cards []*model.Card) ([]byte, error) {
	if len(cards) == 0 {
		return nil, nil
	}
	tree, err := cardTree(cards)
	if err != nil {
		return nil, fmt.Errorf("build card tree: %w", err)
	}
	return tree.Root(), nil
}

// CardProof proves that the card with the given id is part of cards.
func CardProof(cards []*model.Card, id uint64) (*merkletree.Proof, error) {
	var target *model.Card
	for _, card := range cards {
		if card.ID == id {
			target = card
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("card %d is not in the set", id)
	}

	tree, err := cardTree(cards)
	if err != nil {
		return nil, fmt.Errorf("build card tree: %w", err)
	}
	return tree.GenerateProof(CardLeaf(target))
}

func VerifyCardProof(card *model.Card, proof *merkletree.Proof, root []byte) (bool, error) {
	return merkletree.VerifyProof(CardLeaf(card), proof, root)
}
