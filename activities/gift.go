package activities

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"invsync/models"
	"invsync/node"
)

// Gifts are relayed by the host, the only node that sees every player.
func hostPlayerGift() node.Activity {
	return node.Activity{
		Name: "playerGift",
		Message: func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
			switch msgType {
			case TypeGift:
				var gift models.GiftMessage
				if err := decode(payload, &gift); err != nil {
					return malformed(n, r, msgType, err)
				}
				nak := models.GiftAck{From: gift.From, Target: gift.Target}
				target := n.FindByName(gift.Target)
				if target == nil {
					r.Logger().Info("gift target not connected", zap.String("target", gift.Target))
					return settle(r, msgType, r.Send(TypeGiftNak, nak))
				}
				if err := target.Send(TypeGift, payload); err != nil {
					r.Logger().Warn("gift relay failed", zap.String("target", gift.Target), zap.Error(err))
					return settle(r, msgType, r.Send(TypeGiftNak, nak))
				}
				return true, nil
			case TypeGiftAck, TypeGiftNak:
				var ack models.GiftAck
				if err := decode(payload, &ack); err != nil {
					return malformed(n, r, msgType, err)
				}
				if ack.From == "" {
					if msgType == TypeGiftAck {
						n.UI().GiftDelivered(ack.Target)
					} else {
						n.UI().GiftFailed(ack.Target)
					}
					return true, nil
				}
				sender := n.FindByName(ack.From)
				if sender == nil {
					r.Logger().Info("gift sender left before acknowledgement", zap.String("from", ack.From))
					return true, nil
				}
				return settle(r, msgType, sender.Send(msgType, payload))
			default:
				return false, nil
			}
		},
	}
}

func guestPlayerGift() node.Activity {
	return node.Activity{
		Name: "playerGift",
		Message: func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
			switch msgType {
			case TypeGift:
				var gift models.GiftMessage
				if err := decode(payload, &gift); err != nil {
					return malformed(n, r, msgType, err)
				}
				reply := models.GiftAck{From: gift.From, Target: gift.Target}
				if err := receiveGift(n, &gift.Item); err != nil {
					r.Logger().Warn("could not store gift", zap.Error(err))
					return settle(r, msgType, r.Send(TypeGiftNak, reply))
				}
				n.UI().GiftReceived(gift.From, gift.Item)
				return settle(r, msgType, r.Send(TypeGiftAck, reply))
			case TypeGiftAck, TypeGiftNak:
				var ack models.GiftAck
				if err := decode(payload, &ack); err != nil {
					return malformed(n, r, msgType, err)
				}
				if msgType == TypeGiftAck {
					n.UI().GiftDelivered(ack.Target)
				} else {
					n.UI().GiftFailed(ack.Target)
				}
				return true, nil
			default:
				return false, nil
			}
		},
	}
}

// receiveGift stores a fresh local copy of item in the player's ground.
func receiveGift(n *node.Node, item *models.Item) error {
	if n.Store() == nil {
		return ErrNoStore
	}
	profileID, ok := playerProfile.Get(n)
	if !ok {
		return ErrNoPlayerData
	}
	inventoryID, err := groundInventory(n.Store(), profileID)
	if err != nil {
		return err
	}
	item.ID = ""
	return n.Store().PutItem(inventoryID, item)
}

// SendGift asks the host to deliver item to the player named target.
func SendGift(n *node.Node, target string, item models.Item) error {
	return n.Do(func(n *node.Node) error {
		host, err := hostRemote(n)
		if err != nil {
			return err
		}
		from, ok := selfName.Get(n)
		if !ok {
			return ErrNotIdentified
		}
		return host.Send(TypeGift, models.GiftMessage{
			From:   from,
			Target: NormalizeName(target),
			Item:   item,
		})
	})
}

// SendGiftFromHost delivers item from the host itself to a connected player.
func SendGiftFromHost(n *node.Node, target string, item models.Item) error {
	return n.Do(func(n *node.Node) error {
		name := NormalizeName(target)
		remote := n.FindByName(name)
		if remote == nil {
			return fmt.Errorf("gift to %q: %w", name, ErrUnknownPlayer)
		}
		return remote.Send(TypeGift, models.GiftMessage{Target: name, Item: item})
	})
}
