package notify

import "errors"

// ErrNoRecipient - у заказа нет email покупателя.
var ErrNoRecipient = errors.New("у заказа нет email покупателя")
