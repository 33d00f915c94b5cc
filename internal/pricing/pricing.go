// Package pricing содержит расчёт стоимости заказа.
package pricing

// Total возвращает стоимость заказа: за каждую бутыль сверх обменянных
// берётся pricePerBottle. Отрицательной стоимость не бывает — обмен
// большего числа бутылей, чем заказано, даёт ноль.
func Total(bottles, exchangeBottles int, pricePerBottle int64) int64 {
	total := int64(bottles-exchangeBottles) * pricePerBottle
	if total < 0 {
		return 0
	}
	return total
}
